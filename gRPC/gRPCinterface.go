package proto

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"path"
	"strings"
	"sync"

	"YoloBench/bank"
	"YoloBench/engine"
	iface "YoloBench/interface"
	"YoloBench/logger"
	"YoloBench/monitor"
	"YoloBench/pipeline"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type JobPackage struct {
	ctx    context.Context
	params pipeline.Params
	Result chan jobResult
}

type jobResult struct {
	out *pipeline.Outcome
	err error
}

// Server implements DetectServiceServer on top of a pipeline. Detect calls
// are queued and run by a fixed set of workers.
type Server struct {
	pipe     *pipeline.Pipeline
	detector iface.Detector
	metrics  *monitor.Metrics
	conf     float32

	JobQueue  chan JobPackage
	closeOnce sync.Once
}

func NewServer(pipe *pipeline.Pipeline, detector iface.Detector, metrics *monitor.Metrics, defaultConf float32) *Server {
	if defaultConf == 0 {
		defaultConf = pipeline.DefaultConfidence
	}
	return &Server{
		pipe:     pipe,
		detector: detector,
		metrics:  metrics,
		conf:     defaultConf,
		JobQueue: make(chan JobPackage, 16),
	}
}

func (s *Server) StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		go s.runWorker(i)
	}
}

func (s *Server) runWorker(workerID int) {
	logger.Log().Debug("worker created", zap.Int("worker", workerID))
	for job := range s.JobQueue {
		job.Result <- s.process(workerID, job)
	}
}

func (s *Server) process(workerID int, job JobPackage) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic recovered", zap.Int("worker", workerID), zap.Any("panic", r))
			res = jobResult{err: fmt.Errorf("%w: panic: %v", pipeline.ErrDetect, r)}
		}
	}()
	out, err := s.pipe.Run(job.ctx, job.params)
	return jobResult{out: out, err: err}
}

// StopWorkers closes the job queue. Pending Detect calls must have returned.
func (s *Server) StopWorkers() {
	s.closeOnce.Do(func() { close(s.JobQueue) })
}

func (s *Server) ListBank(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	files, err := s.pipe.Files()
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"dir":   s.pipe.Bank().Dir,
		"files": strings2any(files),
	})
}

func (s *Server) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	params, err := s.paramsFrom(req)
	if err != nil {
		return nil, toStatus(err)
	}
	result := make(chan jobResult, 1)
	select {
	case s.JobQueue <- JobPackage{ctx: ctx, params: params, Result: result}:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	var res jobResult
	select {
	case res = <-result:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	if res.err != nil {
		return nil, toStatus(res.err)
	}
	return outcomeStruct(res.out)
}

func (s *Server) CheckEngine(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	cfg := s.detector.CheckConfig()
	state := "unknown"
	if st, ok := s.detector.(interface{ Status() int }); ok {
		state = engine.StateName(st.Status())
	}
	return structpb.NewStruct(map[string]any{
		"backend":      cfg.Backend,
		"modelPath":    cfg.ModelPath,
		"names":        strings2any(cfg.Names),
		"inputSize":    cfg.InputSize,
		"iou":          cfg.Iou,
		"useGpu":       cfg.UseGPU,
		"state":        state,
		"sizeSelector": s.pipe.SizeSelector(),
	})
}

// paramsFrom reads the request fields source, choice, image (base64),
// save, filename, conf, imgsz and detect (default true).
func (s *Server) paramsFrom(req *structpb.Struct) (pipeline.Params, error) {
	f := req.GetFields()
	p := pipeline.Params{
		Source:     f["source"].GetStringValue(),
		Choice:     f["choice"].GetStringValue(),
		SaveToBank: f["save"].GetBoolValue(),
		SaveName:   f["filename"].GetStringValue(),
		Confidence: s.conf,
		Detect:     true,
	}
	if v, ok := f["conf"]; ok {
		p.Confidence = float32(v.GetNumberValue())
	}
	if v, ok := f["imgsz"]; ok {
		p.InferenceSize = int(v.GetNumberValue())
	}
	if v, ok := f["detect"]; ok {
		p.Detect = v.GetBoolValue()
	}
	if v, ok := f["image"]; ok {
		b64 := v.GetStringValue()
		if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
			b64 = b64[i+1:]
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return p, fmt.Errorf("%w: image is not base64: %v", pipeline.ErrInvalidParams, err)
		}
		p.Upload = data
		if p.Source == "" {
			p.Source = pipeline.SourceUpload
		}
	}
	return p, nil
}

func outcomeStruct(o *pipeline.Outcome) (*structpb.Struct, error) {
	notices := make([]any, 0, len(o.Notices))
	for _, n := range o.Notices {
		notices = append(notices, map[string]any{"level": n.Level, "text": n.Text})
	}
	dets := make([]any, 0, len(o.Detections))
	for _, d := range o.Detections {
		dets = append(dets, map[string]any{
			"label":      d.Label,
			"classId":    d.ClassID,
			"confidence": d.Confidence,
			"box": map[string]any{
				"x1": d.Box.X1, "y1": d.Box.Y1, "x2": d.Box.X2, "y2": d.Box.Y2,
			},
		})
	}
	m := map[string]any{
		"requestId":     o.RequestID,
		"displayName":   o.DisplayName,
		"detected":      o.Detected,
		"inferenceSize": o.InferenceSize,
		"notices":       notices,
		"detections":    dets,
		"lines":         strings2any(o.Lines),
		"bank":          strings2any(o.Bank),
	}
	if d := o.Download; d != nil {
		m["download"] = map[string]any{
			"name":        d.Name,
			"contentType": d.ContentType,
			"data":        base64.StdEncoding.EncodeToString(d.Data),
		}
	}
	return structpb.NewStruct(m)
}

func strings2any(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrInvalidParams), errors.Is(err, pipeline.ErrNoImage), errors.Is(err, bank.ErrDecode):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, bank.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// unaryInterceptor counts and logs every call and turns panics into
// Internal errors.
func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("gRPC panic recovered", zap.String("method", info.FullMethod), zap.Any("panic", r))
			resp, err = nil, status.Errorf(codes.Internal, "panic: %v", r)
		}
		code := status.Code(err)
		s.metrics.GRPCRequest(path.Base(info.FullMethod), code.String())
		if err != nil {
			logger.Log().Warn("gRPC call failed", zap.String("method", info.FullMethod), zap.String("code", code.String()), zap.Error(err))
		}
	}()
	return handler(ctx, req)
}

func NewGRPCServer(srv *Server) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(srv.unaryInterceptor))
	RegisterDetectServiceServer(s, srv)
	return s
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	s := NewGRPCServer(srv)
	go func() {
		logger.Log().Info("gRPC listening", zap.Int("port", port))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("gRPC serve failed", zap.Error(err))
		}
	}()
	return s, nil
}
