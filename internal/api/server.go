package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/internal/observability/metrics"
	"github.com/zhangpanweb/tapable/pkg/hook"
	"github.com/zhangpanweb/tapable/pkg/hooks"
	"github.com/zhangpanweb/tapable/pkg/logger"
)

// CodeUnauthenticated 表示请求缺少或携带了错误的 Bearer Token。
const CodeUnauthenticated xerrors.Code = "UNAUTHENTICATED"

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{
		Message:  "missing or invalid bearer token",
		Severity: xerrors.SeverityWarning,
	})
}

// Server 负责暴露 REST 接口，供外部查询和调用钩子。
type Server struct {
	addr            string
	registry        *hooks.Registry
	metrics         *metrics.Metrics
	token           string
	callTimeout     time.Duration
	shutdownTimeout time.Duration
	audit           *slog.Logger
	router          chi.Router
}

// Option 调整 Server 的可选参数。
type Option func(*Server)

// WithMetrics 挂载 /metrics 并记录请求指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithToken 要求 /api 请求携带 Bearer Token。
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = strings.TrimSpace(token)
	}
}

// WithCallTimeout 限制异步调用的等待时间。
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithShutdownTimeout 设置优雅关闭的超时时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithAuditLogger 替换审计日志输出。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, registry *hooks.Registry, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		registry:        registry,
		callTimeout:     30 * time.Second,
		shutdownTimeout: 5 * time.Second,
		audit:           logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1/hooks", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleListHooks)
		r.Get("/{name}", s.handleGetHook)
		r.Post("/{name}/call", s.handleCallHook)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("api").Info("api server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// CallRequest 是 POST /api/v1/hooks/{name}/call 的请求体。
type CallRequest struct {
	// Mode 取值 sync、async、promise，留空时按钩子类型选择。
	Mode hook.Kind `json:"mode"`
	Args []any     `json:"args"`
}

// CallResponse 是调用成功时的响应体。
type CallResponse struct {
	Hook   string    `json:"hook"`
	Mode   hook.Kind `json:"mode"`
	Result any       `json:"result"`
}

// ErrorResponse 描述调用失败的原因。
type ErrorResponse struct {
	Code      xerrors.Code      `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleListHooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.DescribeAll())
}

func (s *Server) handleGetHook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	desc, ok := s.registry.Describe(name)
	if !ok {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("hook %q not found", name), xerrors.WithMetadata("hook", name)))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleCallHook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, ok := s.registry.Get(name)
	if !ok {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("hook %q not found", name), xerrors.WithMetadata("hook", name)))
		return
	}

	var req CallRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败", xerrors.WithRetryable(false)))
			return
		}
	}
	if req.Mode == "" {
		req.Mode = hook.KindSync
		if family, _ := s.registry.Family(name); family.Async() {
			req.Mode = hook.KindPromise
		}
	}
	if !req.Mode.Valid() {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown call mode %q", req.Mode), xerrors.WithMetadata("mode", string(req.Mode))))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
	defer cancel()

	result, err := call(ctx, h, req.Mode, req.Args)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Hook: name, Mode: req.Mode, Result: result})
}

// call 以指定方式调用钩子，并在 ctx 结束前等待异步结果。
func call(ctx context.Context, h *hook.Hook, mode hook.Kind, args []any) (any, error) {
	switch mode {
	case hook.KindAsync:
		type outcome struct {
			result any
			err    error
		}
		ch := make(chan outcome, 1)
		if err := h.CallAsync(func(err error, result any) {
			ch <- outcome{result: result, err: err}
		}, args...); err != nil {
			return nil, err
		}
		select {
		case out := <-ch:
			return out.result, out.err
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "hook call timed out")
		}
	case hook.KindPromise:
		p, err := h.Promise(args...)
		if err != nil {
			return nil, err
		}
		result, err := p.Await(ctx)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "hook call timed out")
		}
		return result, err
	default:
		return h.Call(args...)
	}
}

// authenticate 校验 Bearer Token，未配置 Token 时直接放行。
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(raw, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.token)) != 1 {
			s.audit.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"remote", r.RemoteAddr,
			)
			s.writeError(w, r, xerrors.New(CodeUnauthenticated, ""))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe 记录审计日志与请求指标。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(route, r.Method, status, duration)
		}
		if strings.HasPrefix(route, "/api/") {
			s.audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 输出统一的错误响应，并按错误严重程度写审计日志。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(code)
	resp := ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		Retryable: xerrors.RetryableError(err),
	}
	if e, ok := xerrors.From(err); ok {
		resp.Metadata = e.Metadata()
	}

	s.audit.Log(r.Context(), levelOf(xerrors.SeverityOf(err)), "api_error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", string(code),
		"retryable", resp.Retryable,
		"error", err.Error(),
	)
	writeJSON(w, status, map[string]ErrorResponse{"error": resp})
}

// levelOf 将错误严重程度映射为日志级别。
func levelOf(sev xerrors.Severity) slog.Level {
	switch sev {
	case xerrors.SeverityCritical:
		return slog.LevelError
	case xerrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// statusOf 将错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeMissingName:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeUnsupported:
		return http.StatusMethodNotAllowed
	case xerrors.CodeNotImplemented:
		return http.StatusNotImplemented
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeTapPanic, xerrors.CodeCompileFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
