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

package infra

import "fmt"

// StaticLocator maps every component id into a single namespace using
// a fixed naming convention; it is the default locator for clusters
// that run one orchestrator per namespace.
type StaticLocator struct {
	Ns string
}

// Namespace returns the locator's fixed namespace.
func (l StaticLocator) Namespace(string) string { return l.Ns }

// LabelSelector returns "app=<componentID>".
func (l StaticLocator) LabelSelector(componentID string) string {
	return fmt.Sprintf("app=%s", componentID)
}

// ServiceName returns the component id unchanged; Services are named
// after the component they front.
func (l StaticLocator) ServiceName(componentID string) string { return componentID }

// DeploymentName returns the component id unchanged.
func (l StaticLocator) DeploymentName(componentID string) string { return componentID }
