/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/darianrosebrook/agent-agency/internal/logging"
	"github.com/sirupsen/logrus"
)

// FailureType is the closed classification of handleFailure's input.
type FailureType string

const (
	FailureHealthCheck FailureType = "HEALTH_CHECK_FAILURE"
	FailureConnection  FailureType = "CONNECTION_FAILURE"
	FailureTimeout     FailureType = "TIMEOUT_FAILURE"
	FailureDependency  FailureType = "DEPENDENCY_FAILURE"
	FailureInternal    FailureType = "INTERNAL_ERROR"
)

// connectionErrorCodes mirrors spec.md §4.2's classification table.
var connectionErrorCodes = map[string]bool{
	"ECONNREFUSED": true,
	"ENOTFOUND":    true,
	"ECONNRESET":   true,
}

// Classify maps a failure's code/message to a FailureType per spec.md
// §4.2's pattern table, checked in order.
func Classify(code, message string) FailureType {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "health check") || strings.Contains(lower, "unhealthy"):
		return FailureHealthCheck
	case connectionErrorCodes[code] || strings.Contains(lower, "connection"):
		return FailureConnection
	case code == "ETIMEDOUT" || strings.Contains(lower, "timeout") || strings.Contains(lower, "aborted"):
		return FailureTimeout
	case strings.Contains(lower, "dependency") || strings.Contains(lower, "required component"):
		return FailureDependency
	default:
		return FailureInternal
	}
}

// RecoveryAction is one step of a recovery playbook.
type RecoveryAction struct {
	Name  string // restart | switchover | scale_up | isolate | alert
	Delay time.Duration
	Force bool
	Level string // for alert: "high"
}

// recoveryPlaybook is the fixed mapping from spec.md §4.2.
var recoveryPlaybook = map[FailureType][]RecoveryAction{
	FailureHealthCheck: {{Name: "restart"}},
	FailureConnection:  {{Name: "switchover"}, {Name: "restart", Delay: 30 * time.Second}},
	FailureTimeout:     {{Name: "scale_up"}},
	FailureInternal:    {{Name: "restart", Force: true}, {Name: "alert", Level: "high"}},
	FailureDependency:  {{Name: "isolate", Delay: 5 * time.Minute}},
}

// InfrastructureController is the collaborator contract of spec.md §6 for
// executing recovery actions.
type InfrastructureController interface {
	RestartComponent(ctx context.Context, id string, force bool) error
	SwitchoverComponent(ctx context.Context, id string) error
	ScaleUpComponent(ctx context.Context, id string) (operationID string, instances []string, err error)
	IsolateComponent(ctx context.Context, id string, duration time.Duration) error
}

// IncidentNotifier is the collaborator contract of spec.md §6 for
// escalating an unrecovered failure.
type IncidentNotifier interface {
	CreateIncidentTicket(ctx context.Context, componentID string, failureType FailureType, recoveryErr error) (incidentID string, err error)
	NotifyOnCallEngineers(ctx context.Context, incidentID string) error
	SendDiagnostics(ctx context.Context, incidentID string, diagnostics map[string]any) error
}

type failureRecord struct {
	at   time.Time
	kind FailureType
}

const (
	defaultFailureWindow     = 5 * time.Minute
	defaultFailureThreshold  = 3
	defaultRecoveryTimeout   = 5 * time.Minute
)

// FailureManager classifies, records, and recovers from component
// failures (spec.md §4.2). It depends on RegistryView, never a back-
// pointer to the Coordinator (see DESIGN.md Open Question 1).
type FailureManager struct {
	registry RegistryView
	infra    InfrastructureController
	notifier IncidentNotifier
	bus      *EventBus
	now      func() time.Time
	log      *logrus.Logger

	failureThreshold int
	failureWindow    time.Duration
	recoveryTimeout  time.Duration

	mu         sync.Mutex
	failures   map[string][]failureRecord
	recovering map[string]bool
}

// NewFailureManager wires a manager against its collaborators.
func NewFailureManager(registry RegistryView, infra InfrastructureController, notifier IncidentNotifier, bus *EventBus) *FailureManager {
	return &FailureManager{
		registry:         registry,
		infra:            infra,
		notifier:         notifier,
		bus:              bus,
		now:              time.Now,
		log:              logrus.StandardLogger(),
		failureThreshold: defaultFailureThreshold,
		failureWindow:    defaultFailureWindow,
		recoveryTimeout:  defaultRecoveryTimeout,
		failures:         make(map[string][]failureRecord),
		recovering:       make(map[string]bool),
	}
}

// HandleFailure classifies and records a failure for componentID, and
// initiates recovery if the failure-threshold is reached within the
// window and no recovery is already active for this component.
func (f *FailureManager) HandleFailure(ctx context.Context, componentID, code, message string) FailureType {
	kind := Classify(code, message)
	now := f.now()

	f.mu.Lock()
	f.failures[componentID] = append(f.failures[componentID], failureRecord{at: now, kind: kind})
	f.failures[componentID] = pruneOlderThan(f.failures[componentID], now.Add(-f.failureWindow))
	count := len(f.failures[componentID])
	alreadyRecovering := f.recovering[componentID]
	f.mu.Unlock()

	f.publish("component:failed", componentID, map[string]any{"type": kind})
	f.publish("component:failure-recorded", componentID, map[string]any{"type": kind, "count": count})

	if count >= f.failureThreshold && !alreadyRecovering {
		go f.recover(ctx, componentID, kind)
	}
	return kind
}

func pruneOlderThan(records []failureRecord, cutoff time.Time) []failureRecord {
	out := records[:0]
	for _, r := range records {
		if r.at.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func (f *FailureManager) recover(ctx context.Context, componentID string, kind FailureType) {
	f.mu.Lock()
	f.recovering[componentID] = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.recovering, componentID)
		f.mu.Unlock()
	}()

	f.publish("recovery:initiated", componentID, map[string]any{"type": kind})

	ctx, cancel := context.WithTimeout(ctx, f.recoveryTimeout)
	defer cancel()

	actions := recoveryPlaybook[kind]
	succeeded := false
	for _, action := range actions {
		if action.Delay > 0 {
			timer := time.NewTimer(action.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				f.publish("recovery:timeout", componentID, map[string]any{"type": kind})
				f.escalate(ctx, componentID, kind, ctx.Err())
				return
			}
		}
		if action.Name == "alert" {
			// Notification, not a corrective action: doesn't count toward success,
			// and the final escalate() below still fires if nothing else did.
			continue
		}
		if err := f.runAction(ctx, componentID, action); err == nil {
			succeeded = true
		} else {
			f.log.WithFields(logging.Fields{}.Component("coordinator").Operation("recovery").
				ComponentID(componentID).Error(err).Logrus()).Warn("recovery action failed, continuing sequence")
		}
	}

	if ctx.Err() != nil {
		f.publish("recovery:timeout", componentID, map[string]any{"type": kind})
		f.escalate(ctx, componentID, kind, ctx.Err())
		return
	}

	if succeeded {
		f.publish("component:recovered", componentID, map[string]any{"type": kind})
		return
	}

	f.publish("recovery:failed", componentID, map[string]any{"type": kind})
	f.escalate(ctx, componentID, kind, nil)
}

func (f *FailureManager) runAction(ctx context.Context, componentID string, action RecoveryAction) error {
	if f.infra == nil {
		return nil
	}
	switch action.Name {
	case "restart":
		return f.infra.RestartComponent(ctx, componentID, action.Force)
	case "switchover":
		return f.infra.SwitchoverComponent(ctx, componentID)
	case "scale_up":
		_, _, err := f.infra.ScaleUpComponent(ctx, componentID)
		return err
	case "isolate":
		return f.infra.IsolateComponent(ctx, componentID, action.Delay)
	case "alert":
		return nil // handled by escalation, not the infra controller
	default:
		return nil
	}
}

func (f *FailureManager) escalate(ctx context.Context, componentID string, kind FailureType, recoveryErr error) {
	f.publish("failure:escalated", componentID, map[string]any{"type": kind})
	if f.notifier == nil {
		return
	}
	incidentID, err := f.notifier.CreateIncidentTicket(ctx, componentID, kind, recoveryErr)
	if err != nil {
		return
	}
	_ = f.notifier.NotifyOnCallEngineers(ctx, incidentID)
	_ = f.notifier.SendDiagnostics(ctx, incidentID, map[string]any{"component": componentID, "failureType": kind})
}

func (f *FailureManager) publish(name, componentID string, data map[string]any) {
	if f.bus == nil {
		return
	}
	merged := map[string]any{"id": componentID}
	for k, v := range data {
		merged[k] = v
	}
	f.bus.Publish(Event{Name: name, Data: merged})
}
