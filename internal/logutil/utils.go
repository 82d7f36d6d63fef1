// Package logutil holds zap field helpers shared by the engine and the API.
package logutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zoravur/livesql/internal/docstore"
)

// Group nests fields under one object field.
func Group(name string, fields ...zap.Field) zap.Field {
	return zap.Object(name, zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for _, f := range fields {
			f.AddTo(enc)
		}
		return nil
	}))
}

// Statement logs a SQL statement together with the native queries it runs
// as, under "statement".
func Statement(sql string, queries []docstore.Query) zap.Field {
	return zap.Object("statement", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("sql", sql)
		enc.AddInt("queries", len(queries))
		return enc.AddArray("native", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
			for _, q := range queries {
				arr.AppendString(q.String())
			}
			return nil
		}))
	}))
}
