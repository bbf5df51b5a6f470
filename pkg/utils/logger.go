package utils

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// MarkerField tags an entry so the text formatter prints it as a success line.
const (
	MarkerField   = "marker"
	MarkerSuccess = "success"
)

// LogConfig selects level, format and destination. Output is console, file
// or both; without a FileLocation everything goes to Console.
type LogConfig struct {
	Level         string `json:"level" yaml:"level"`
	Format        string `json:"format" yaml:"format"`
	Output        string `json:"output" yaml:"output"`
	FileLocation  string `json:"file_location" yaml:"file_location"`
	MaxSize       int    `json:"max_size" yaml:"max_size"`
	MaxBackups    int    `json:"max_backups" yaml:"max_backups"`
	MaxAge        int    `json:"max_age" yaml:"max_age"`
	Compress      bool   `json:"compress" yaml:"compress"`
	EnableConsole bool   `json:"enable_console" yaml:"enable_console"`
	Console       io.Writer
}

// Logger is a logrus logger that also owns its rotating file sink.
type Logger struct {
	*logrus.Logger
	config   LogConfig
	mu       sync.Mutex
	fileSink io.WriteCloser
	service  string
	version  string
	hostname string
}

func NewLogger(config LogConfig, service, version string) (*Logger, error) {
	l := &Logger{
		Logger:   logrus.New(),
		config:   normalizeConfig(config),
		service:  service,
		version:  version,
		hostname: getHostname(),
	}

	level, err := logrus.ParseLevel(l.config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch l.config.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		l.SetFormatter(&MarkerFormatter{})
	}

	if err := l.setOutput(); err != nil {
		return nil, err
	}

	l.AddHook(&ServiceHook{
		Service:  service,
		Version:  version,
		Hostname: l.hostname,
	})

	return l, nil
}

func normalizeConfig(c LogConfig) LogConfig {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "text"
	}
	c.Output = strings.ToLower(strings.TrimSpace(c.Output))
	if c.Output == "" {
		if c.EnableConsole {
			c.Output = "both"
		} else {
			c.Output = "file"
		}
	}
	if c.Console == nil {
		c.Console = os.Stdout
	}
	return c
}

func (l *Logger) setOutput() error {
	var writers []io.Writer

	wantConsole := l.config.Output == "console" || l.config.Output == "both"
	wantFile := l.config.Output == "file" || l.config.Output == "both"

	if wantFile && l.config.FileLocation != "" {
		if err := os.MkdirAll(filepath.Dir(l.config.FileLocation), 0o755); err != nil {
			return err
		}
		lj := &lumberjack.Logger{
			Filename:   l.config.FileLocation,
			MaxSize:    max(1, l.config.MaxSize),
			MaxBackups: max(0, l.config.MaxBackups),
			MaxAge:     max(0, l.config.MaxAge),
			Compress:   l.config.Compress,
		}
		l.fileSink = lj
		writers = append(writers, lj)
	}

	if wantConsole || len(writers) == 0 {
		writers = append(writers, l.config.Console)
	}

	// Escape codes would end up in the rotated file.
	if mf, ok := l.Formatter.(*MarkerFormatter); ok {
		mf.DisableColors = l.fileSink != nil || l.config.Console != os.Stdout || color.NoColor
	}

	l.SetOutput(io.MultiWriter(writers...))
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileSink != nil {
		return l.fileSink.Close()
	}
	return nil
}

// Success logs an info entry that the text formatter renders with the [+] marker.
func Success(log logrus.FieldLogger, format string, args ...interface{}) {
	log.WithField(MarkerField, MarkerSuccess).Infof(format, args...)
}

// MarkerFormatter renders entries as "[*] message" lines. Fields are not
// printed; they only matter for the JSON format.
type MarkerFormatter struct {
	DisableColors bool
}

var (
	infoMarker    = color.New(color.FgCyan)
	successMarker = color.New(color.FgGreen, color.Bold)
	warnMarker    = color.New(color.FgYellow, color.Bold)
	errorMarker   = color.New(color.FgRed, color.Bold)
)

func (f *MarkerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	marker, c := "[*]", infoMarker
	switch {
	case entry.Level <= logrus.ErrorLevel:
		marker, c = "[!]", errorMarker
	case entry.Level == logrus.WarnLevel:
		marker, c = "[!]", warnMarker
	case entry.Data[MarkerField] == MarkerSuccess:
		marker, c = "[+]", successMarker
	}

	var b bytes.Buffer
	if f.DisableColors {
		b.WriteString(marker)
	} else {
		b.WriteString(c.Sprint(marker))
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	if !strings.HasSuffix(entry.Message, "\n") {
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// ServiceHook stamps every entry with service, version and hostname.
type ServiceHook struct {
	Service  string
	Version  string
	Hostname string
}

func (h *ServiceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *ServiceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.Service
	entry.Data["version"] = h.Version
	entry.Data["hostname"] = h.Hostname
	return nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// NewConsoleLogger returns an uncolored marker logger writing to w. Used
// before configuration is loaded and in tests.
func NewConsoleLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&MarkerFormatter{DisableColors: true})
	l.SetLevel(logrus.DebugLevel)
	return l
}
