package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/config"
)

// New builds the process logger from LOG_LEVEL / LOG_FORMAT settings.
func New(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(out)

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "console":
		l.SetFormatter(NewConsoleFormatter())
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		l.SetLevel(logrus.InfoLevel)
		l.WithFields(logrus.Fields{
			"attempted_level": cfg.Level,
			"default_level":   "info",
		}).Warn("invalid log level, defaulting to info")
	} else {
		l.SetLevel(level)
	}
	return l
}

// OrStandard returns l, or the logrus standard logger when l is nil.
func OrStandard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}

type ConsoleFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{TimestampFormat: "2006-01-02 15:04:05"}
}

func (f *ConsoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sortFields(keys)

	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	levelColor := levelColor(entry.Level)
	timeColor := color.New(color.FgYellow)
	if f.DisableColors {
		levelColor.DisableColor()
		timeColor.DisableColor()
	}

	b.WriteString(timeColor.Sprint(entry.Time.Format(f.TimestampFormat)))
	b.WriteByte(' ')
	b.WriteString(levelColor.Sprintf("%-7s", strings.ToUpper(entry.Level.String())))
	b.WriteByte(' ')
	b.WriteString(levelColor.Sprint(entry.Message))

	for _, k := range keys {
		fieldColor := color.New(color.FgCyan)
		if isImportantField(k) {
			fieldColor = color.New(color.FgGreen)
		}
		if f.DisableColors {
			fieldColor.DisableColor()
		}
		b.WriteByte(' ')
		b.WriteString(fieldColor.Sprintf("%s=", k))
		b.WriteString(formatValue(entry.Data[k]))
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		if strings.ContainsAny(v, " \t\"=") {
			return fmt.Sprintf("%q", v)
		}
		return v
	case error:
		return fmt.Sprintf("%q", v.Error())
	case fmt.Stringer:
		return v.String()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func levelColor(level logrus.Level) *color.Color {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return color.New(color.FgBlue)
	case logrus.InfoLevel:
		return color.New(color.FgGreen)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.ErrorLevel:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

var fieldPriority = map[string]int{
	"source":  1,
	"batch":   2,
	"item_id": 3,
	"status":  4,
	"error":   5,
}

func isImportantField(field string) bool {
	_, ok := fieldPriority[field]
	return ok
}

func sortFields(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := fieldPriority[keys[i]], fieldPriority[keys[j]]
		switch {
		case pi != 0 && pj != 0:
			return pi < pj
		case pi != 0:
			return true
		case pj != 0:
			return false
		}
		return keys[i] < keys[j]
	})
}
