// Package Adhoc announces this instance to a registry server.
package Adhoc

import (
	"context"
	"fmt"
	"time"

	"YoloBench/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CpuInstance    = 0x2002
	CudaInstance   = 0x2003
	TimeOutSeconds = 5
)

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	RPCPort       int    `json:"rpcPort"`
	Model         string `json:"model"`
	Backend       string `json:"backend"`
	InstanceClass int    `json:"instanceClass"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port     int
	Addr     string
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg *RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Instance describes what is announced on every heartbeat.
type Instance struct {
	IP            string
	Port          int
	RPCPort       int
	Model         string
	Backend       string
	InstanceClass int
}

type Heartbeat struct {
	cfg    RegServerConfig
	inst   Instance
	id     string
	client *resty.Client
}

func NewHeartbeat(cfg RegServerConfig, inst Instance) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = TimeOutSeconds * time.Second
	}
	return &Heartbeat{
		cfg:    cfg,
		inst:   inst,
		id:     uuid.NewString(),
		client: resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *Heartbeat) ID() string { return h.id }

// Send posts one registration. Panics are recovered and reported as errors.
func (h *Heartbeat) Send(ctx context.Context) (resp *RegisterResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat panic recovered: %v", r)
		}
	}()
	var respBody RegisterResponse
	reqBody := RegisterRequest{
		Id:            h.id,
		IP:            h.inst.IP,
		Port:          h.inst.Port,
		RPCPort:       h.inst.RPCPort,
		Model:         h.inst.Model,
		Backend:       h.inst.Backend,
		InstanceClass: h.inst.InstanceClass,
		TimeStamp:     time.Now().Unix(),
	}
	r, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(h.cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("server returned error: %s, body: %s", r.Status(), r.String())
	}
	return &respBody, nil
}

// Run sends a heartbeat immediately and then on every interval until ctx
// is done. Failures are logged and retried on the next tick.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	send := func() {
		if _, err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Warn("heartbeat failed", zap.String("url", h.cfg.URL()), zap.Error(err))
		}
	}
	send()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped", zap.String("id", h.id))
			return
		case <-ticker.C:
			send()
		}
	}
}
