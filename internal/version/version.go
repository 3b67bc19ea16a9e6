package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает только номер версии (для health-ответов).
func Version() string { return version }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent формирует user-agent межсервисных gRPC-клиентов, например "oms-orders/dev".
func UserAgent(service string) string {
	if service == "" {
		service = "client"
	}
	return fmt.Sprintf("oms-%s/%s", service, version)
}
