package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/ayusman/drowsyguard/internal/plugin"
)

// PluginSink runs a plugin action for every alert. Executions run in the
// background; Wait blocks until they finish.
// pluginLookup finds installed plugins by name.
type pluginLookup interface {
	Get(name string) (*plugin.Plugin, error)
}

type PluginSink struct {
	manager  pluginLookup
	executor *plugin.Executor
	name     string
	action   string
	config   json.RawMessage

	wg sync.WaitGroup
}

// NewPluginSink creates a sink that runs action of the named plugin.
func NewPluginSink(manager *plugin.Manager, executor *plugin.Executor, name, action string, config json.RawMessage) *PluginSink {
	return &PluginSink{
		manager:  manager,
		executor: executor,
		name:     name,
		action:   action,
		config:   config,
	}
}

func (p *PluginSink) Handle(ev Event) {
	if !ev.Result.ShouldAlert {
		return
	}

	plug, err := p.manager.Get(p.name)
	if err != nil {
		if errors.Is(err, plugin.ErrPluginNotFound) {
			log.Printf("Alert raised but plugin %q is not installed", p.name)
		} else {
			log.Printf("Alert raised but plugin %q is unavailable: %v", p.name, err)
		}
		return
	}

	req, err := plugin.NewAlertRequest(p.action, p.config, plugin.AlertParams{
		SessionID:    ev.SessionID,
		TimestampMs:  ev.Result.TimestampMs,
		ClosedFrames: ev.Result.ClosedFrameCount,
		Openness:     ev.Result.Openness,
	})
	if err != nil {
		log.Printf("Failed to build alert request: %v", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		resp, err := p.executor.Execute(context.Background(), plug, req)
		if err != nil {
			log.Printf("Alert plugin %s failed: %v", p.name, err)
			return
		}
		if !resp.Success {
			log.Printf("Alert plugin %s reported error: %s", p.name, resp.Error)
		}
	}()
}

// Wait blocks until all running plugin executions finish.
func (p *PluginSink) Wait() {
	p.wg.Wait()
}
