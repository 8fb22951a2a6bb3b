package config

import "github.com/spf13/pflag"

// 命令行参数名到配置键的映射
var flagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"log-level": "logging.level",
}

// RegisterFlags 注册服务端支持的命令行参数
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to configuration file")
	fs.String("host", "0.0.0.0", "host to bind to")
	fs.IntP("port", "p", 8080, "port to listen on")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
}
