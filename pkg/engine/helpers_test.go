package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// fakeServer serves canned LXD metadata per path.
type fakeServer struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	requests  []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

func (s *fakeServer) on(path, body string) *fakeServer {
	s.responses[path] = body
	return s
}

func (s *fakeServer) fail(path string, err error) *fakeServer {
	s.failures[path] = err
	return s
}

func (s *fakeServer) Fetch(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, path)
	if err, ok := s.failures[path]; ok {
		return nil, err
	}
	body, ok := s.responses[path]
	if !ok {
		return nil, NewFetchError(fmt.Sprintf("not found: %s", path), nil).WithCode(ErrCodeHTTPStatus)
	}
	return json.RawMessage(body), nil
}

func (s *fakeServer) requested(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, r := range s.requests {
		if strings.HasPrefix(r, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// factoryFor binds endpoint names to fake servers.
func factoryFor(servers map[string]*fakeServer) ClientFactory {
	return func(cfg EndpointConfig) (Fetcher, error) {
		s, ok := servers[cfg.Name]
		if !ok {
			return nil, NewFetchError("endpoint unreachable", nil).
				WithEndpoint(cfg.Name).
				WithCode(ErrCodeUnreachable)
		}
		return s, nil
	}
}

// recordingRecorder captures measurements for assertions.
type recordingRecorder struct {
	fetches    []string
	instances  map[string][2]int
	exclusions map[string]int
	collisions int
	errors     []string
	runs       []string
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		instances:  make(map[string][2]int),
		exclusions: make(map[string]int),
	}
}

func (r *recordingRecorder) RecordFetch(endpoint, operation, outcome string, _ float64) {
	r.fetches = append(r.fetches, endpoint+":"+operation+":"+outcome)
}

func (r *recordingRecorder) RecordInstances(endpoint string, discovered, included int) {
	r.instances[endpoint] = [2]int{discovered, included}
}

func (r *recordingRecorder) RecordExclusion(_ string, reason string) {
	r.exclusions[reason]++
}

func (r *recordingRecorder) RecordHostnameCollision(string) {
	r.collisions++
}

func (r *recordingRecorder) RecordError(class, code string) {
	r.errors = append(r.errors, class+"/"+code)
}

func (r *recordingRecorder) RecordRun(status string, _ int, _ float64) {
	r.runs = append(r.runs, status)
}

// testEndpoint returns an endpoint with permissive filters.
func testEndpoint(name string) EndpointConfig {
	return EndpointConfig{
		Name:           name,
		Endpoint:       "https://" + name + ".example:8443",
		VerifySSL:      true,
		HostnameFormat: DefaultHostnameFormat,
		Filters: Filters{
			Status:           []string{FilterAll},
			Type:             []string{FilterAll},
			Projects:         Projects(DefaultProject),
			IgnoreInterfaces: []string{"lo", "docker0"},
		},
	}
}

// instanceJSON renders one instance record as LXD returns it with recursion=2.
func instanceJSON(name, typ, status string, profiles []string, addrs ...string) string {
	prof, _ := json.Marshal(profiles)

	var inet []string
	for _, a := range addrs {
		family := FamilyInet
		if strings.Contains(a, ":") {
			family = FamilyInet6
		}
		inet = append(inet, fmt.Sprintf(`{"family":%q,"address":%q,"netmask":"24","scope":"global"}`, family, a))
	}

	return fmt.Sprintf(`{
		"name": %q,
		"type": %q,
		"status": %q,
		"architecture": "x86_64",
		"profiles": %s,
		"config": {"image.os": "ubuntu"},
		"expanded_config": {"image.os": "ubuntu"},
		"state": {"network": {
			"lo": {"addresses": [{"family":"inet","address":"127.0.0.1","netmask":"8","scope":"local"}]},
			"eth0": {"addresses": [%s]}
		}}
	}`, name, typ, status, prof, strings.Join(inet, ","))
}

func instanceList(items ...string) string {
	return "[" + strings.Join(items, ",") + "]"
}

func instancesPath(project string) string {
	return "/instances?recursion=2&project=" + project
}
