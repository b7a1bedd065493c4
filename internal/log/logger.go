package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 按运行环境配置全局 zerolog：dev 使用彩色控制台输出，其余环境输出 JSON。
func Init(env string) {
	InitTo(env, os.Stdout)
}

// InitTo 与 Init 相同，但写入指定的 io.Writer（终端客户端写到 stderr）。
func InitTo(env string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
