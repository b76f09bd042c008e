package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

func InitSafeExit() {
	SafeExitInst = new(SafeExit)
	go SafeExitInst.ListenSignal()
}

// SafeExit runs registered cleanups once, last registered first.
type SafeExit struct {
	funcs []func()
	mu    sync.Mutex
	once  sync.Once
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Shutdown 执行清理, 可重复调用
func (s *SafeExit) Shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		funcs := append([]func(){}, s.funcs...)
		s.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			funcs[i]()
		}
	})
}

func (s *SafeExit) exit() {
	s.Shutdown()
	os.Exit(0)
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
			fmt.Printf("收到系统信号 %d, 正在停止任务, 请稍后\n", sig)
			s.exit()
		}
	}
}
