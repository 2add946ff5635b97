package app

import (
	"net"
	"sync"

	"github.com/Karleow/SimpleSpeedtest/internal/config"
	"github.com/Karleow/SimpleSpeedtest/internal/datapool"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
)

type Supervisor struct {
	configPath string
	logger     util.Logger
	mu         sync.Mutex
	runtime    *Runtime
}

func NewSupervisor(configPath string, logger util.Logger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		logger:     logger,
	}
}

func (s *Supervisor) Start() error {
	return s.start(nil)
}

func (s *Supervisor) start(previous *datapool.Pool) error {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	runtime, err := NewRuntime(cfg, s.logger, previous)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		runtime.Stop()
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

// Restart reloads the config file and replaces the running runtime, keeping
// the prepared pool when its size is unchanged.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()

	var previous *datapool.Pool
	if current != nil {
		previous = current.Pool()
		current.Stop()
	}
	return s.start(previous)
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// Addr is the bound address of the running runtime, or nil.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil
	}
	return s.runtime.Addr()
}
