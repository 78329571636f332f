package k8s

import (
	"context"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func pod(name, namespace, agent string, phase corev1.PodPhase, ready bool) *corev1.Pod {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{AgentLabel: agent},
		},
		Status: corev1.PodStatus{
			Phase:      phase,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: status}},
		},
	}
}

func TestReadyPods(t *testing.T) {
	terminating := pod("p4", "maestro", "summarizer", corev1.PodRunning, true)
	now := metav1.NewTime(time.Now())
	terminating.DeletionTimestamp = &now

	clientset := fake.NewSimpleClientset(
		pod("p1", "maestro", "summarizer", corev1.PodRunning, true),
		pod("p2", "maestro", "summarizer", corev1.PodRunning, false),
		pod("p3", "maestro", "summarizer", corev1.PodPending, true),
		terminating,
		pod("p5", "maestro", "other", corev1.PodRunning, true),
		pod("p6", "agents", "summarizer", corev1.PodRunning, true),
	)
	client := NewClientFromClientset(clientset, "")

	ready, total, err := client.ReadyPods(context.Background(), "", AgentLabel+"=summarizer")
	if err != nil {
		t.Fatalf("ReadyPods failed: %v", err)
	}
	if ready != 1 || total != 3 {
		t.Errorf("expected 1/3 ready, got %d/%d", ready, total)
	}

	ready, total, err = client.ReadyPods(context.Background(), "agents", AgentLabel+"=summarizer")
	if err != nil {
		t.Fatalf("ReadyPods failed: %v", err)
	}
	if ready != 1 || total != 1 {
		t.Errorf("expected 1/1 ready in agents namespace, got %d/%d", ready, total)
	}
}

func TestAgentSelector(t *testing.T) {
	tests := []struct {
		name          string
		agent         *types.RegisteredAgent
		wantNamespace string
		wantSelector  string
	}{
		{
			name:         "default label",
			agent:        &types.RegisteredAgent{ID: "summarizer"},
			wantSelector: AgentLabel + "=summarizer",
		},
		{
			name:         "sanitized id",
			agent:        &types.RegisteredAgent{ID: "_agent/one:v2_"},
			wantSelector: AgentLabel + "=agentonev2",
		},
		{
			name: "metadata override",
			agent: &types.RegisteredAgent{ID: "x", Metadata: map[string]string{
				MetadataSelector:  "app=writer",
				MetadataNamespace: "agents",
			}},
			wantNamespace: "agents",
			wantSelector:  "app=writer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, sel := AgentSelector(tt.agent)
			if ns != tt.wantNamespace || sel != tt.wantSelector {
				t.Errorf("got (%q, %q), want (%q, %q)", ns, sel, tt.wantNamespace, tt.wantSelector)
			}
		})
	}

	long := strings.Repeat("a", 80)
	if got := sanitizeK8sLabel(long); len(got) != 63 {
		t.Errorf("expected label truncated to 63 chars, got %d", len(got))
	}
}
