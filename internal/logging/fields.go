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

// Package logging provides a small fluent builder over logrus.Fields so
// call sites build structured log context without repeating key names.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a fluent builder for structured logrus fields.
type Fields logrus.Fields

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

// Component tags the emitting subsystem (e.g. "coordinator", "intake").
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation tags the action in progress (e.g. "routeRequest").
func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

// Resource tags the entity the operation concerns. name is omitted from
// the field set when empty.
func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

// Duration records an elapsed time in whole milliseconds.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error records err's message. A nil error leaves the field unset.
func (f Fields) Error(err error) Fields {
	if err == nil {
		return f
	}
	f["error"] = err.Error()
	return f
}

// TaskID tags the task a log line concerns.
func (f Fields) TaskID(id string) Fields {
	f["task_id"] = id
	return f
}

// ComponentID tags the coordinator component a log line concerns. Named
// distinctly from Component (subsystem name) to avoid collisions when a
// coordinator log line needs both.
func (f Fields) ComponentID(id string) Fields {
	f["component_id"] = id
	return f
}

// Count records an integer count under an arbitrary key.
func (f Fields) Count(key string, n int) Fields {
	f[key] = n
	return f
}

// Logrus converts f to the logrus.Fields WithFields expects.
func (f Fields) Logrus() logrus.Fields {
	return logrus.Fields(f)
}
