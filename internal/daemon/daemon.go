package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hpcloud/tail"
	"github.com/valyala/fastjson"
	"k8s.io/klog/v2"

	"github.com/Chichichkin/SplunkSink/internal/logging"
	"github.com/Chichichkin/SplunkSink/internal/logging/encode"
)

// LoggerName is reported as the logger of every tailed line.
const LoggerName = "tail"

type LogDaemonService struct {
	config        Config
	writer        logging.Writer
	fileQueue     chan string
	workersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *LogDaemonMetrics
	log           logr.Logger

	activeMu sync.Mutex
	active   map[string]struct{}
	seen     map[string]struct{}
}

type Config struct {
	LogRootPath    string
	ScanInterval   time.Duration
	Workers        int
	FileQueueSize  int
	NodeName       string
	ReportInterval time.Duration
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	// FromStart reads existing content instead of only appended lines.
	FromStart bool
}

// NewLogDaemonService creates a service that runs Workers tailing goroutines
// plus a scanner and a reporter once started.
func NewLogDaemonService(ctx context.Context, config Config, writer logging.Writer) *LogDaemonService {
	nCtx, cancel := context.WithCancel(ctx)
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.FileQueueSize <= 0 {
		config.FileQueueSize = config.Workers
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 30 * time.Second
	}

	return &LogDaemonService{
		config:    config,
		writer:    writer,
		fileQueue: make(chan string, config.FileQueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		metrics: &LogDaemonMetrics{
			FilesQueueCapacity: config.FileQueueSize,
		},
		log:    klog.Background().WithName("daemon"),
		active: make(map[string]struct{}),
		seen:   make(map[string]struct{}),
	}
}

func (s *LogDaemonService) Start() {
	s.log.Info("starting log daemon service",
		"root", s.config.LogRootPath, "workers", s.config.Workers, "queueSize", s.config.FileQueueSize)

	for i := 0; i < s.config.Workers; i++ {
		s.workersWg.Add(1)
		go s.worker(i)
	}

	s.subServicesWg.Add(1)
	go s.scanner()

	if s.config.ReportInterval > 0 {
		s.subServicesWg.Add(1)
		go s.metricsReporter()
	}
}

func (s *LogDaemonService) Stop() {
	s.log.Info("stopping log daemon service")
	s.cancel()

	s.subServicesWg.Wait()

	close(s.fileQueue)
	s.workersWg.Wait()

	s.log.Info("log daemon service stopped")
}

func (s *LogDaemonService) Metrics() LogDaemonMetrics {
	return s.metrics.GetMetricsStamp()
}

func (s *LogDaemonService) worker(id int) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(nil, "worker panicked", "worker", id, "panic", r)
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecAmountQueueFiles()
			s.metrics.IncWorkersBusy()
			s.processFile(s.ctx, filePath)
			s.metrics.DecWorkersBusy()
			s.release(filePath)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) processFile(ctx context.Context, filePath string) {
	defer s.metrics.IncFilesProcessed()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(nil, "file processing panicked", "file", filePath, "panic", r)
			s.metrics.IncFilesFailed()
		}
	}()

	whence := io.SeekEnd
	if s.config.FromStart {
		whence = io.SeekStart
	}

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.log.Error(err, "failed to tail file", "file", filePath)
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer t.Stop()

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	path := s.contextPath(filePath)
	extra := s.extraFields(filePath)
	lastActivity := time.Now()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.log.Error(line.Err, "error reading file", "file", filePath)
				continue
			}

			record := logging.Record{
				Timestamp: line.Time,
				Level:     logging.LevelInfo,
				Logger:    LoggerName,
				Message:   line.Text,
				Extra:     extra,
			}
			if s.writer.Write(record, path) {
				s.metrics.IncLinesShipped()
			} else {
				s.metrics.IncLinesDropped()
			}
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	s.scanFiles()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.log.Error(err, "error discovering log files")
		return
	}

	for _, file := range files {
		if !s.claim(file) {
			continue
		}
		select {
		case s.fileQueue <- file:
			s.metrics.IncAmountQueueFiles()
		case <-s.ctx.Done():
			s.release(file)
			return

		default:
			s.release(file)
			s.log.Info("file queue full, skipping",
				"queued", len(s.fileQueue), "capacity", cap(s.fileQueue), "file", file)
		}
	}
}

// claim marks file as being tailed. It returns false if a worker already owns it.
func (s *LogDaemonService) claim(file string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if _, ok := s.active[file]; ok {
		return false
	}
	if _, ok := s.seen[file]; !ok {
		s.seen[file] = struct{}{}
		s.metrics.IncFilesDiscovered()
	}
	s.active[file] = struct{}{}
	return true
}

func (s *LogDaemonService) release(file string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, file)
}

func (s *LogDaemonService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := s.metrics.GetMetricsStamp()
			s.log.Info("daemon metrics",
				"workersBusy", metrics.WorkersBusy,
				"workers", s.config.Workers,
				"queuedFiles", metrics.QueuedFiles,
				"queueUsage", int(s.metrics.GetQueueUsage()*100),
				"filesProcessed", metrics.FilesProcessed,
				"filesDiscovered", metrics.FilesDiscovered,
				"filesFailed", metrics.FilesFailed,
				"linesShipped", metrics.LinesShipped,
				"linesDropped", metrics.LinesDropped,
			)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.V(1).Info("error accessing path", "path", path, "err", err)
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

// podSegments splits a file location relative to the log root. Pod logs live
// at <namespace>_<pod>_<uid>/<container>/<n>.log; pod is nil for anything
// else.
func (s *LogDaemonService) podSegments(filePath string) (pod []string, container string) {
	rel, err := filepath.Rel(s.config.LogRootPath, filePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return nil, ""
	}
	pod = strings.Split(parts[0], "_")
	if len(pod) < 3 {
		return nil, ""
	}
	if len(parts) >= 3 {
		container = parts[1]
	}
	return pod, container
}

// contextPath renders namespace/pod/container for a pod log file and an
// empty path for files outside that layout.
func (s *LogDaemonService) contextPath(filePath string) string {
	pod, container := s.podSegments(filePath)
	if pod == nil {
		return ""
	}
	segments := []string{pod[0], pod[1]}
	if container != "" {
		segments = append(segments, container)
	}
	return strings.Join(segments, logging.PathSeparator)
}

func (s *LogDaemonService) extraFields(filePath string) string {
	var arena fastjson.Arena
	obj := arena.NewObject()
	obj.Set("File", arena.NewString(filepath.Base(filePath)))
	obj.Set("Node", arena.NewString(s.config.NodeName))

	if pod, _ := s.podSegments(filePath); pod != nil {
		obj.Set("PodUID", arena.NewString(pod[2]))
	}

	return encode.Fragment(obj)
}
