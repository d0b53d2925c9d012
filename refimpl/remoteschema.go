package refimpl

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/gqlclient"
)

// RemoteSchemaExecutor is the reference implementation of
// collab.RemoteSchemaExecutor, backed by the adapted gqlclient package:
// one *gqlclient.Client per distinct endpoint, built lazily and reused
// across requests.
type RemoteSchemaExecutor struct {
	mu      sync.RWMutex
	clients map[string]*gqlclient.Client
}

// NewRemoteSchemaExecutor returns an executor with no clients yet.
func NewRemoteSchemaExecutor() *RemoteSchemaExecutor {
	return &RemoteSchemaExecutor{clients: map[string]*gqlclient.Client{}}
}

func (e *RemoteSchemaExecutor) clientFor(endpoint string) (*gqlclient.Client, error) {
	e.mu.RLock()
	c, ok := e.clients[endpoint]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	client, err := gqlclient.NewClient(&gqlclient.Options{URL: endpoint})
	if err != nil {
		return nil, errors.Wrapf(err, "building remote schema client for %q", endpoint)
	}

	e.mu.Lock()
	e.clients[endpoint] = client
	e.mu.Unlock()
	return client, nil
}

// Forward implements collab.RemoteSchemaExecutor: it issues a query
// naming only the requested field against the remote endpoint and
// extracts ResultPath from the response (§4.5 "Remote-schema step").
func (e *RemoteSchemaExecutor) Forward(ctx context.Context, step collab.Step, req collab.StepRequest) (collab.StepResult, error) {
	rs, ok := step.(*collab.RemoteSchemaStep)
	if !ok {
		return collab.StepResult{}, fmt.Errorf("remote schema executor: unsupported step kind for field %q", step.FieldName())
	}

	client, err := e.clientFor(rs.Endpoint)
	if err != nil {
		return collab.StepResult{}, err
	}

	rsp, err := client.Request(ctx, gqlclient.Request{
		Query:     fmt.Sprintf("query { %s }", rs.Field),
		Variables: req.Variables,
	})
	if err != nil {
		return collab.StepResult{}, errors.Wrapf(err, "forwarding field %q to %q", rs.Field, rs.Endpoint)
	}

	if rsp.HasErrors() {
		errs := make([]error, 0, len(rsp.Errors()))
		for _, fe := range rsp.Errors() {
			errs = append(errs, errors.New(fe.Message))
		}
		return collab.StepResult{Errors: errs}, nil
	}

	data := rsp.Data()
	for _, key := range rs.ResultPath {
		m, ok := data.(map[string]interface{})
		if !ok {
			break
		}
		data = m[key]
	}

	return collab.StepResult{Data: data}, nil
}
