// Package builtin wires the shipped provider types into a registry.
// It sits apart from pkg/providers so provider packages can import the
// contract without a cycle.
package builtin

import (
	"github.com/signalbridge/signalbridge/pkg/providers"
	"github.com/signalbridge/signalbridge/pkg/providers/cloudwatch"
	"github.com/signalbridge/signalbridge/pkg/providers/datadog"
	"github.com/signalbridge/signalbridge/pkg/providers/grafana"
)

// Registry returns a registry with every built-in provider registered.
func Registry() *providers.Registry {
	r := providers.NewRegistry()
	r.Register(datadog.Definition())
	r.Register(grafana.Definition())
	r.Register(cloudwatch.Definition())
	return r
}
