package main

import "testing"

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{false, true} {
		logger, err := newLogger(debug)
		if err != nil {
			t.Fatalf("debug=%v: unexpected error %v", debug, err)
		}
		if logger == nil {
			t.Fatalf("debug=%v: expected a logger", debug)
		}
		logger.Info("logger ready")
	}
}
