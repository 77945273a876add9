// Package logging configures the shared logrus instance: a custom
// timestamped formatter, gin's writers routed through it, and an optional
// rotating file sink with a background size-capped cleaner for the log
// directory.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// Formatter renders one log line as
// "[2026-07-29 20:14:04] [warn ] [client.go:152] message field=value".
type Formatter struct{}

var fieldOrder = []string{"dialect", "model", "session", "attempt", "status", "error"}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var buf *bytes.Buffer
	if entry.Buffer != nil {
		buf = entry.Buffer
	} else {
		buf = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range fieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		fmt.Fprintf(buf, "[%s] [%s] [%s:%d] %s%s\n", timestamp, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buf, "[%s] [%s] %s%s\n", timestamp, levelStr, message, fieldsStr)
	}
	return buf.Bytes(), nil
}

// LevelForDebug maps the DEBUG config var (off|low|medium|high) onto a
// logrus level.
func LevelForDebug(debug string) log.Level {
	switch strings.ToLower(strings.TrimSpace(debug)) {
	case "high":
		return log.TraceLevel
	case "medium":
		return log.DebugLevel
	case "low":
		return log.InfoLevel
	default:
		return log.WarnLevel
	}
}

// Setup configures the shared logrus instance and gin's writers. Safe to
// call multiple times; initialization happens only once.
func Setup(debug string) {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&Formatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			format = strings.TrimRight(format, "\r\n")
			log.StandardLogger().Infof(format, values...)
		}

		log.RegisterExitHandler(closeOutputs)
	})
	log.SetLevel(LevelForDebug(debug))
}

// EnableFileOutput switches the log destination to a rotating file under
// dataDir/logs/gateway.log, starting the size-capped cleaner for that
// directory. maxTotalMB<=0 disables the cleaner (rotation still applies via
// lumberjack's own MaxSize/MaxBackups).
func EnableFileOutput(dataDir string, maxTotalMB int) error {
	Setup("")

	writerMu.Lock()
	defer writerMu.Unlock()

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: create log directory: %w", err)
	}
	if logWriter != nil {
		_ = logWriter.Close()
	}
	protectedPath := filepath.Join(logDir, "gateway.log")
	logWriter = &lumberjack.Logger{
		Filename:   protectedPath,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(logWriter)

	configureCleanerLocked(logDir, maxTotalMB, protectedPath)
	return nil
}

func closeOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	stopCleanerLocked()
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}
