// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil provides the package-level structured-logging helpers
// used throughout this repo, in the same call shape as the teacher's own
// logutil package (logutil.Infof/Errorf/Debugf seen across pkg/cdc and
// pkg/txn/service).
package logutil

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// SetLogger replaces the package-level zap logger. Call once at process
// startup; safe to call concurrently with logging calls.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// GetLogger returns the current package-level zap logger.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func sugar() *zap.SugaredLogger {
	return GetLogger().Sugar()
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { sugar().Infof(format, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { sugar().Errorf(format, args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { sugar().Debugf(format, args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { sugar().Warnf(format, args...) }

// With returns a structured logger with the given fields attached, for
// call sites that want zap.Field-typed context instead of Printf-style
// formatting (mirroring pkg/txn/service/service_cn_handler.go's
// s.logger.Error("...", zap.Error(err)) pattern).
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}
