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

// Package notify binds spec.md §6's incident-notifier contract to
// Slack: every escalation opens an incident ticket, pages the on-call
// channel, and posts diagnostics as a threaded reply, all idempotent
// on the incident id so a retried escalation never double-pages.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/coordinator"
	"github.com/darianrosebrook/agent-agency/pkg/resilience"
)

// SlackPoster is the narrow surface the notifier depends on: post text
// to a channel, optionally as a threaded reply, and get back the
// message timestamp to thread further replies under. Narrowing away
// from slack.Client's full method set keeps tests free of a live
// Slack connection.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID, text, threadTS string) (ts string, err error)
}

// SlackClient adapts a real *slack.Client to SlackPoster.
type SlackClient struct {
	Client *slack.Client
}

// PostMessageContext posts text to channelID, threading under
// threadTS when non-empty.
func (c SlackClient) PostMessageContext(ctx context.Context, channelID, text, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := c.Client.PostMessageContext(ctx, channelID, opts...)
	return ts, err
}

// Notifier implements pkg/coordinator.IncidentNotifier against Slack.
type Notifier struct {
	client    SlackPoster
	channel   string
	onCallIDs []string
	Breaker   *resilience.BreakerRegistry

	mu        sync.Mutex
	tickets   map[string]ticket
	paged     map[string]bool
	diagnosed map[string]bool
}

// post sends text to the configured channel, optionally threaded under
// threadTS, guarded by Breaker when set.
func (n *Notifier) post(ctx context.Context, text, threadTS string) (string, error) {
	result, err := resilience.Guard(n.Breaker, "slack:postMessage", func() (any, error) {
		return n.client.PostMessageContext(ctx, n.channel, text, threadTS)
	})
	if err != nil {
		return "", err
	}
	ts, _ := result.(string)
	return ts, nil
}

type ticket struct {
	componentID string
	failureType coordinator.FailureType
	threadTS    string
}

// NewNotifier returns a notifier posting to channel and paging the
// given on-call Slack user/group ids.
func NewNotifier(client SlackPoster, channel string, onCallIDs []string) *Notifier {
	return &Notifier{
		client:    client,
		channel:   channel,
		onCallIDs: onCallIDs,
		tickets:   make(map[string]ticket),
		paged:     make(map[string]bool),
		diagnosed: make(map[string]bool),
	}
}

// CreateIncidentTicket posts the initial incident message and returns
// a newly minted incident id; the message's timestamp becomes the
// thread root for NotifyOnCallEngineers and SendDiagnostics.
func (n *Notifier) CreateIncidentTicket(ctx context.Context, componentID string, failureType coordinator.FailureType, recoveryErr error) (string, error) {
	incidentID := "INC-" + uuid.NewString()

	text := fmt.Sprintf("Incident %s: recovery failed for component %s (%s): %v", incidentID, componentID, failureType, recoveryErr)
	ts, err := n.post(ctx, text, "")
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "post incident ticket for %s", componentID)
	}

	n.mu.Lock()
	n.tickets[incidentID] = ticket{componentID: componentID, failureType: failureType, threadTS: ts}
	n.mu.Unlock()

	return incidentID, nil
}

// NotifyOnCallEngineers pages the configured on-call ids as a threaded
// reply to the incident ticket. A second call for the same incident
// id is a no-op: escalation must not page twice for one failure.
func (n *Notifier) NotifyOnCallEngineers(ctx context.Context, incidentID string) error {
	n.mu.Lock()
	t, ok := n.tickets[incidentID]
	alreadyPaged := n.paged[incidentID]
	n.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.ErrorTypeNotFound, "INCIDENT_NOT_FOUND").WithDetailsf("incident %s has no ticket", incidentID)
	}
	if alreadyPaged {
		return nil
	}

	mentions := make([]string, len(n.onCallIDs))
	copy(mentions, n.onCallIDs)
	sort.Strings(mentions)

	text := fmt.Sprintf("Paging on-call for %s: %s", t.componentID, mentionText(mentions))
	_, err := n.post(ctx, text, t.threadTS)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "page on-call for incident %s", incidentID)
	}

	n.mu.Lock()
	n.paged[incidentID] = true
	n.mu.Unlock()
	return nil
}

// SendDiagnostics posts diagnostics as a threaded reply under the
// incident ticket. Idempotent per incident id like NotifyOnCallEngineers.
func (n *Notifier) SendDiagnostics(ctx context.Context, incidentID string, diagnostics map[string]any) error {
	n.mu.Lock()
	t, ok := n.tickets[incidentID]
	alreadySent := n.diagnosed[incidentID]
	n.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.ErrorTypeNotFound, "INCIDENT_NOT_FOUND").WithDetailsf("incident %s has no ticket", incidentID)
	}
	if alreadySent {
		return nil
	}

	text := formatDiagnostics(diagnostics)
	_, err := n.post(ctx, text, t.threadTS)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "send diagnostics for incident %s", incidentID)
	}

	n.mu.Lock()
	n.diagnosed[incidentID] = true
	n.mu.Unlock()
	return nil
}

func mentionText(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " "
		}
		out += "<@" + id + ">"
	}
	return out
}

func formatDiagnostics(diagnostics map[string]any) string {
	keys := make([]string, 0, len(diagnostics))
	for k := range diagnostics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := "Diagnostics:"
	for _, k := range keys {
		out += fmt.Sprintf("\n- %s: %v", k, diagnostics[k])
	}
	return out
}
