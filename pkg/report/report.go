// Copyright 2026 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package report renders closure reports.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	purl "github.com/package-url/packageurl-go"

	"chainguard.dev/repoclosure/pkg/closure"
)

// Options carries the run context a report is rendered in.
type Options struct {
	// Arch is the architecture the report was computed for.
	Arch string
	// Namespace is the purl namespace of the distribution, e.g. "wolfi".
	Namespace string
}

// Formatter renders a closure report.
type Formatter interface {
	Key() string
	Format(ctx context.Context, w io.Writer, r *closure.Report, opts *Options) error
}

// FormatterFactory is a function that creates a Formatter.
type FormatterFactory func() Formatter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]FormatterFactory)
)

func init() {
	RegisterFormatter(TextFormat, func() Formatter { return &text{} })
	RegisterFormatter(JSONFormat, func() Formatter { return &jsonFormatter{} })
	RegisterFormatter(DOTFormat, func() Formatter { return &dotFormatter{} })
}

// RegisterFormatter registers a formatter factory under the given key. A
// formatter with the same key is replaced.
func RegisterFormatter(key string, factory FormatterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key] = factory
}

// Formats returns the keys of all registered formatters, sorted.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(registry))
	for key := range registry {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// New returns the formatter registered as format. Any other value is parsed
// as a text/template executed once per reported package.
func New(format string) (Formatter, error) {
	registryMu.RLock()
	factory, ok := registry[format]
	registryMu.RUnlock()
	if ok {
		return factory(), nil
	}

	t, err := newTemplate(format)
	if err != nil {
		return nil, fmt.Errorf("format %q is neither one of %v nor a valid template: %w", format, Formats(), err)
	}
	return t, nil
}

// PURL returns the package URL of a package in the given namespace.
func PURL(id closure.ID, namespace string) string {
	version := id.Version
	if id.Release != "" {
		version += "-" + id.Release
	}
	qualifiers := map[string]string{}
	if id.Arch != "" {
		qualifiers["arch"] = id.Arch
	}
	return purl.NewPackageURL(
		purl.TypeApk, namespace, id.Name, version,
		purl.QualifiersFromMap(qualifiers), "",
	).String()
}
