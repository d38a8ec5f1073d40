// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"os"
	"sync"
)

// FileWriter is an append-only log file which can be reopened in place, so
// that external log rotation (rename, then SIGHUP) works.
type FileWriter struct {
	mu   sync.Mutex // protects f
	f    *os.File
	mode os.FileMode
	name string
}

// NewFileWriter opens name for appending with mode 0600.
func NewFileWriter(name string) (*FileWriter, error) {
	return NewFileWriterMode(name, 0600)
}

// NewFileWriterMode opens name for appending with the given permissions.
func NewFileWriterMode(name string, mode os.FileMode) (*FileWriter, error) {
	fw := &FileWriter{name: name, mode: mode}
	if err := fw.reopen(); err != nil {
		return nil, err
	}
	return fw, nil
}

// reopen requires fw.mu to be held, or fw to be unshared.
func (fw *FileWriter) reopen() error {
	if fw.f != nil {
		fw.f.Close()
		fw.f = nil
	}
	f, err := os.OpenFile(fw.name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, fw.mode)
	if err != nil {
		return err
	}
	fw.f = f
	return nil
}

// Reopen closes the current file and opens fw's path again, picking up a new
// inode if the old file was moved away.
func (fw *FileWriter) Reopen() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.reopen()
}

func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.f.Write(p)
}

func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.f.Close()
}

// Name returns the path the writer (re)opens.
func (fw *FileWriter) Name() string {
	return fw.name
}
