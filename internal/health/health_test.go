package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/k8s"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	prober := NewHTTPProber(nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		endpoint    string
		wantHealthy bool
		wantErr     bool
	}{
		{"healthy", srv.URL + "/ok/", true, false},
		{"unhealthy", srv.URL + "/down", false, false},
		{"no endpoint", "", false, true},
		{"unreachable", "http://127.0.0.1:1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthy, err := prober.Probe(ctx, &types.RegisteredAgent{ID: "a", Endpoint: tt.endpoint})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if healthy != tt.wantHealthy {
				t.Errorf("healthy = %v, want %v", healthy, tt.wantHealthy)
			}
		})
	}
}

func TestK8sProber(t *testing.T) {
	readyPod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "writer-0",
			Namespace: "maestro",
			Labels:    map[string]string{k8s.AgentLabel: "writer"},
		},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
	prober := NewK8sProber(k8s.NewClientFromClientset(fake.NewSimpleClientset(readyPod), "maestro"))
	ctx := context.Background()

	healthy, err := prober.Probe(ctx, &types.RegisteredAgent{ID: "writer"})
	if err != nil || !healthy {
		t.Errorf("expected healthy writer, got %v, %v", healthy, err)
	}

	if _, err := prober.Probe(ctx, &types.RegisteredAgent{ID: "ghost"}); err == nil {
		t.Error("expected error when no pods match")
	}
}

func TestMux(t *testing.T) {
	unhealthy := Func(func(context.Context, *types.RegisteredAgent) (bool, error) { return false, nil })
	healthy := Func(func(context.Context, *types.RegisteredAgent) (bool, error) { return true, nil })

	mux := &Mux{Default: unhealthy, Probers: map[string]Prober{"custom": healthy}}
	ctx := context.Background()

	tests := []struct {
		name  string
		probe string
		want  bool
	}{
		{"default", "", false},
		{"named", "custom", true},
		{"unknown name falls back", "other", false},
		{"none", "none", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &types.RegisteredAgent{ID: "a", Metadata: map[string]string{MetadataProbe: tt.probe}}
			got, err := mux.Probe(ctx, agent)
			if err != nil {
				t.Fatalf("Probe failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
