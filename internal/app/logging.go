package app

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// NewLogger создаёт logger процесса в формате и с уровнем из конфигурации.
func NewLogger(cfg Config) *log.Entry {
	logger := log.New()
	logger.SetOutput(os.Stdout)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	return logger.WithField("service", serviceName(cfg.Role))
}

func serviceName(role Role) string {
	switch role {
	case RoleInventory:
		return "oms-inventory"
	case RolePayment:
		return "oms-payment"
	case RoleOrders:
		return "oms-orders"
	default:
		return "oms"
	}
}
