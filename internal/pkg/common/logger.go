package common

import (
	"fmt"

	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

type LoggerService struct {
	Logger *zap.Logger
}

func NewLoggerService(i do.Injector) (*LoggerService, error) {
	debug := do.MustInvokeNamed[bool](i, "debug")

	var (
		logger *zap.Logger
		err    error
	)

	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &LoggerService{
		Logger: logger,
	}, nil
}

func (s *LoggerService) Shutdown() error {
	//nolint:wrapcheck
	return s.Logger.Sync()
}
