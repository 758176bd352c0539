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

// Package infra binds spec.md §6's infrastructure-controller contract
// to Kubernetes: restart deletes a pod (the owning ReplicaSet recreates
// it), switchover patches a Service selector, scale-up patches a
// Deployment's replica count, and isolate applies a deny-all
// NetworkPolicy.
package infra

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/resilience"

	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ComponentLocator resolves a coordinator component id to the
// Kubernetes object it corresponds to; the registry stores components
// by opaque id, so the controller needs this mapping to know which pod
// label selector, Service, or Deployment to act on.
type ComponentLocator interface {
	Namespace(componentID string) string
	LabelSelector(componentID string) string
	ServiceName(componentID string) string
	DeploymentName(componentID string) string
}

// Controller implements pkg/coordinator.InfrastructureController
// against a live Kubernetes API server.
type Controller struct {
	client  kubernetes.Interface
	locator ComponentLocator
	Breaker *resilience.BreakerRegistry
}

// NewController returns a controller acting through client, resolving
// component ids to Kubernetes objects via locator. Breaker is left nil;
// set it directly to guard every Kubernetes call through a per-action
// circuit breaker.
func NewController(client kubernetes.Interface, locator ComponentLocator) *Controller {
	return &Controller{client: client, locator: locator}
}

// RestartComponent deletes every pod matching the component's label
// selector; the owning ReplicaSet recreates them. force maps to a zero
// grace period.
func (c *Controller) RestartComponent(ctx context.Context, id string, force bool) error {
	_, err := resilience.Guard(c.Breaker, "infra:restart:"+id, func() (any, error) {
		ns := c.locator.Namespace(id)
		selector := c.locator.LabelSelector(id)

		pods, err := c.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "list pods for %s", id)
		}

		opts := metav1.DeleteOptions{}
		if force {
			zero := int64(0)
			opts.GracePeriodSeconds = &zero
		}
		for _, pod := range pods.Items {
			if err := c.client.CoreV1().Pods(ns).Delete(ctx, pod.Name, opts); err != nil && !apierrors.IsNotFound(err) {
				return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "delete pod %s", pod.Name)
			}
		}
		return nil, nil
	})
	return err
}

// SwitchoverComponent repoints a Service's selector at the component's
// standby pods by setting the selector's "role" label to "standby".
func (c *Controller) SwitchoverComponent(ctx context.Context, id string) error {
	_, err := resilience.Guard(c.Breaker, "infra:switchover:"+id, func() (any, error) {
		ns := c.locator.Namespace(id)
		name := c.locator.ServiceName(id)

		svc, err := c.client.CoreV1().Services(ns).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "get service %s", name)
		}
		if svc.Spec.Selector == nil {
			svc.Spec.Selector = map[string]string{}
		}
		svc.Spec.Selector["role"] = "standby"

		if _, err := c.client.CoreV1().Services(ns).Update(ctx, svc, metav1.UpdateOptions{}); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "update service %s", name)
		}
		return nil, nil
	})
	return err
}

// ScaleUpComponent patches the component's Deployment to add one
// replica, returning a synthetic operation id and the resulting pod
// name prefixes to poll.
func (c *Controller) ScaleUpComponent(ctx context.Context, id string) (string, []string, error) {
	type scaled struct {
		operationID string
		pods        []string
	}
	result, err := resilience.Guard(c.Breaker, "infra:scale-up:"+id, func() (any, error) {
		ns := c.locator.Namespace(id)
		name := c.locator.DeploymentName(id)

		dep, err := c.client.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "get deployment %s", name)
		}

		var current int32
		if dep.Spec.Replicas != nil {
			current = *dep.Spec.Replicas
		}
		target := current + 1
		dep.Spec.Replicas = &target

		if _, err := c.client.AppsV1().Deployments(ns).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "scale deployment %s", name)
		}

		operationID := fmt.Sprintf("scale-%s-%d", name, time.Now().UnixNano())
		return scaled{operationID: operationID, pods: []string{fmt.Sprintf("%s-%d", name, target)}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	s := result.(scaled)
	return s.operationID, s.pods, nil
}

// IsolateComponent applies a deny-all NetworkPolicy scoped to the
// component's pods for duration; the caller is responsible for
// removing it once the isolation window elapses.
func (c *Controller) IsolateComponent(ctx context.Context, id string, duration time.Duration) error {
	_, err := resilience.Guard(c.Breaker, "infra:isolate:"+id, func() (any, error) {
		ns := c.locator.Namespace(id)
		selector := c.locator.LabelSelector(id)

		labelSelector, err := metav1.ParseToLabelSelector(selector)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "parse label selector %q", selector)
		}

		policy := &networkingv1.NetworkPolicy{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "isolate-" + id,
				Namespace: ns,
				Annotations: map[string]string{
					"orchestrator.io/isolate-until": time.Now().Add(duration).Format(time.RFC3339),
				},
			},
			Spec: networkingv1.NetworkPolicySpec{
				PodSelector: *labelSelector,
				PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress},
			},
		}

		_, err = c.client.NetworkingV1().NetworkPolicies(ns).Create(ctx, policy, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return nil, nil
		}
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "create network policy for %s", id)
		}
		return nil, nil
	})
	return err
}
