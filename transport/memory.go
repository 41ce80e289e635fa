// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process Transport for tests. It records everything
// sent, replays injected actions, and can be primed with errors for
// upcoming report deliveries.
type Memory struct {
	mutex      sync.Mutex
	deliveries []Delivery
	notices    []string
	files      []SentFile
	sendErrors []error
	nextHandle int
	actions    chan Action
	receiveErr error
	changed    chan struct{}
}

// Delivery is one recorded SendReport or UpdateReport call.
type Delivery struct {
	Handle MessageHandle
	HTML   string
	// Update is false for the initial SendReport.
	Update bool
}

// SentFile is one recorded SendFile call.
type SentFile struct {
	Upload  FileUpload
	Content []byte
}

var _ Transport = (*Memory)(nil)

// NewMemory creates an empty Memory transport.
func NewMemory() *Memory {
	return &Memory{
		actions: make(chan Action, 64),
		changed: make(chan struct{}),
	}
}

// FailNext queues errors returned by the next report deliveries, one
// per call, before any recording happens.
func (m *Memory) FailNext(errs ...error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sendErrors = append(m.sendErrors, errs...)
}

// FailReceive makes ReceiveActions return err immediately.
func (m *Memory) FailReceive(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.receiveErr = err
}

// Inject queues an action for ReceiveActions.
func (m *Memory) Inject(action Action) {
	m.actions <- action
}

// Changed returns a channel closed at the next recorded call.
func (m *Memory) Changed() <-chan struct{} {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.changed
}

// Deliveries returns the successful report deliveries in order.
func (m *Memory) Deliveries() []Delivery {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Delivery(nil), m.deliveries...)
}

// LastHTML returns the most recently delivered report, or "".
func (m *Memory) LastHTML() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.deliveries) == 0 {
		return ""
	}
	return m.deliveries[len(m.deliveries)-1].HTML
}

// Notices returns the notices posted so far.
func (m *Memory) Notices() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.notices...)
}

// Files returns the files sent so far.
func (m *Memory) Files() []SentFile {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]SentFile(nil), m.files...)
}

// signalLocked wakes Changed waiters.
func (m *Memory) signalLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Memory) popErrorLocked() error {
	if len(m.sendErrors) == 0 {
		return nil
	}
	err := m.sendErrors[0]
	m.sendErrors = m.sendErrors[1:]
	return err
}

// SendReport records a new report.
func (m *Memory) SendReport(_ context.Context, html string) (MessageHandle, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.popErrorLocked(); err != nil {
		m.signalLocked()
		return "", err
	}
	m.nextHandle++
	handle := MessageHandle(fmt.Sprintf("$report-%d", m.nextHandle))
	m.deliveries = append(m.deliveries, Delivery{Handle: handle, HTML: html})
	m.signalLocked()
	return handle, nil
}

// UpdateReport records an update. Updating with the content already
// delivered for the handle fails with NotModified.
func (m *Memory) UpdateReport(_ context.Context, handle MessageHandle, html string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.popErrorLocked(); err != nil {
		m.signalLocked()
		return err
	}
	for index := len(m.deliveries) - 1; index >= 0; index-- {
		if m.deliveries[index].Handle == handle {
			if m.deliveries[index].HTML == html {
				return &DeliveryError{Kind: NotModified, Err: fmt.Errorf("report unchanged")}
			}
			break
		}
	}
	m.deliveries = append(m.deliveries, Delivery{Handle: handle, HTML: html, Update: true})
	m.signalLocked()
	return nil
}

// ReceiveActions delivers injected actions until ctx is done.
func (m *Memory) ReceiveActions(ctx context.Context, deliver func(Action)) error {
	m.mutex.Lock()
	receiveErr := m.receiveErr
	m.mutex.Unlock()
	if receiveErr != nil {
		return receiveErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case action := <-m.actions:
			deliver(action)
		}
	}
}

// Notify records a notice.
func (m *Memory) Notify(_ context.Context, text string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.notices = append(m.notices, text)
	m.signalLocked()
	return nil
}

// SendFile reads and records the upload.
func (m *Memory) SendFile(_ context.Context, upload FileUpload) error {
	reader, err := upload.Open()
	if err != nil {
		return err
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.files = append(m.files, SentFile{Upload: upload, Content: content})
	m.signalLocked()
	return nil
}
