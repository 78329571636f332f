// Package k8s provides Kubernetes lookups for agents deployed as pods.
package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps the Kubernetes clientset with agent-specific lookups.
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// Config holds K8s client configuration.
type Config struct {
	// InCluster indicates whether to use in-cluster config
	InCluster bool

	// Kubeconfig path (used when not in-cluster)
	Kubeconfig string

	// Namespace where agent pods run unless an agent overrides it
	Namespace string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	// Try to find kubeconfig
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}

	return &Config{
		InCluster:  false,
		Kubeconfig: kubeconfig,
		Namespace:  "maestro",
	}
}

// NewClient creates a new K8s client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var restConfig *rest.Config
	var err error

	if cfg.InCluster {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	return NewClientFromClientset(clientset, cfg.Namespace), nil
}

// NewClientFromClientset wraps an existing clientset.
func NewClientFromClientset(clientset kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = "maestro"
	}
	return &Client{clientset: clientset, namespace: namespace}
}

// Namespace returns the configured namespace.
func (c *Client) Namespace() string {
	return c.namespace
}

// ListPods lists pods in namespace with the given label selector. An empty
// namespace means the configured one.
func (c *Client) ListPods(ctx context.Context, namespace, labelSelector string) (*corev1.PodList, error) {
	if namespace == "" {
		namespace = c.namespace
	}
	return c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
}

// ReadyPods counts the selected pods and how many of them are Ready.
func (c *Client) ReadyPods(ctx context.Context, namespace, labelSelector string) (ready, total int, err error) {
	pods, err := c.ListPods(ctx, namespace, labelSelector)
	if err != nil {
		return 0, 0, fmt.Errorf("list pods: %w", err)
	}
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.DeletionTimestamp != nil {
			continue
		}
		total++
		if PodReady(pod) {
			ready++
		}
	}
	return ready, total, nil
}

// PodReady reports whether the pod is running with condition Ready=True.
func PodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// HealthCheck verifies connectivity to the K8s API.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.clientset.Discovery().ServerVersion()
	return err
}
