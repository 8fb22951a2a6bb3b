package registry

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Status 实例状态
type Status string

const (
	StatusStarting     Status = "Starting"
	StatusUp           Status = "Up"
	StatusDown         Status = "Down"
	StatusStopping     Status = "Stopping"
	StatusOutOfService Status = "OutOfService"
	StatusUnknown      Status = "Unknown"
)

var allStatuses = []Status{
	StatusStarting, StatusUp, StatusDown, StatusStopping, StatusOutOfService, StatusUnknown,
}

// ParseStatus 解析状态字符串，忽略大小写以及 "_" / "-"（OUT_OF_SERVICE 等价于 OutOfService）
func ParseStatus(s string) (Status, error) {
	norm := normalizeStatus(s)
	for _, st := range allStatuses {
		if normalizeStatus(string(st)) == norm {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// Operator 表示由运维或客户端显式设置的状态，健康检查不会覆盖
func (s Status) Operator() bool {
	return s == StatusStopping || s == StatusOutOfService
}

// HealthCheck 实例声明的主动健康检查
type HealthCheck struct {
	// URL 路径（如 /health），也可以是完整的 http(s) 地址
	URL             string            `json:"url"`
	IntervalSeconds int               `json:"interval_seconds,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds,omitempty"`
	Method          string            `json:"method,omitempty"`
	ExpectedStatus  int               `json:"expected_status,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

func (h *HealthCheck) normalize() {
	h.Method = strings.ToUpper(strings.TrimSpace(h.Method))
	if h.Method == "" {
		h.Method = http.MethodGet
	}
	if h.ExpectedStatus == 0 {
		h.ExpectedStatus = http.StatusOK
	}
}

func (h *HealthCheck) clone() *HealthCheck {
	if h == nil {
		return nil
	}
	c := *h
	if h.Headers != nil {
		c.Headers = make(map[string]string, len(h.Headers))
		for k, v := range h.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// ServiceInstance 一个运行中的服务实例
type ServiceInstance struct {
	ID               string            `json:"id"`
	ServiceName      string            `json:"service_name"`
	Host             string            `json:"host"`
	Port             int               `json:"port"`
	Secure           bool              `json:"secure"`
	Status           Status            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	Tags             []string          `json:"tags"`
	HealthCheck      *HealthCheck      `json:"health_check,omitempty"`
	RegisteredAt     time.Time         `json:"registered_at"`
	LastHeartbeat    time.Time         `json:"last_heartbeat"`
	LastStatusChange time.Time         `json:"last_status_change"`

	// heartbeatSeen 注册后是否收到过心跳，只有心跳驱动的实例才参与过期判定
	heartbeatSeen bool
}

// HeartbeatTracked 实例是否通过心跳上报存活
func (i *ServiceInstance) HeartbeatTracked() bool {
	return i.heartbeatSeen
}

// Address 返回 host:port
func (i *ServiceInstance) Address() string {
	return i.Host + ":" + strconv.Itoa(i.Port)
}

// BaseURL 根据 secure 返回 http(s)://host:port
func (i *ServiceInstance) BaseURL() string {
	scheme := "http"
	if i.Secure {
		scheme = "https"
	}
	return scheme + "://" + i.Address()
}

// HasTags 实例标签是否包含全部 tags
func (i *ServiceInstance) HasTags(tags []string) bool {
	for _, t := range tags {
		if !slices.Contains(i.Tags, t) {
			return false
		}
	}
	return true
}

// Clone 深拷贝，返回给调用方的实例都经过拷贝
func (i *ServiceInstance) Clone() *ServiceInstance {
	c := *i
	c.Metadata = make(map[string]string, len(i.Metadata))
	for k, v := range i.Metadata {
		c.Metadata[k] = v
	}
	c.Tags = slices.Clone(i.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.HealthCheck = i.HealthCheck.clone()
	return &c
}

// Service 服务视图，由实例派生
type Service struct {
	Name      string             `json:"name"`
	Instances []*ServiceInstance `json:"instances"`
	Tags      []string           `json:"tags"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Registration 注册请求
type Registration struct {
	ServiceName string            `json:"service_name"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Secure      bool              `json:"secure"`
	Metadata    map[string]string `json:"metadata"`
	Tags        []string          `json:"tags"`
	HealthCheck *HealthCheck      `json:"health_check"`
}

// InstanceFilter 实例查询条件
type InstanceFilter struct {
	HealthyOnly bool
	// Tags 实例标签需为其超集
	Tags []string
	// Limit 大于 0 时截断结果
	Limit int
}

func (f InstanceFilter) match(i *ServiceInstance) bool {
	if f.HealthyOnly && i.Status != StatusUp {
		return false
	}
	return i.HasTags(f.Tags)
}

// RegistryStats 注册中心统计
type RegistryStats struct {
	TotalServices    int       `json:"total_services"`
	TotalInstances   int       `json:"total_instances"`
	HealthyInstances int       `json:"healthy_instances"`
	StartTime        time.Time `json:"start_time"`
}
