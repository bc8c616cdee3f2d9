package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/repository"
	"github.com/turbine-data/adsync/internal/state"
)

// DefaultParquetBatchSize is the number of records flushed per file.
const DefaultParquetBatchSize = 1000

// Parquet archives records as parquet files in a repository, one
// directory per stream. Schemas are derived from the catalog schema seen
// in WriteSchema; every column is an optional UTF8 string, values are
// stringified. State messages are not archived.
type Parquet struct {
	repo      repository.Repository
	batchSize int
	logger    *zap.Logger

	buffers map[string]*parquetBuffer
}

type parquetBuffer struct {
	schema string
	fields []string
	rows   []string
	seq    int
}

type ParquetOption func(*Parquet)

func ParquetWithBatchSize(n int) ParquetOption {
	return func(p *Parquet) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func ParquetWithLogger(logger *zap.Logger) ParquetOption {
	return func(p *Parquet) {
		p.logger = logger
	}
}

func NewParquet(repo repository.Repository, opts ...ParquetOption) *Parquet {
	p := &Parquet{
		repo:      repo,
		batchSize: DefaultParquetBatchSize,
		logger:    zap.NewNop(),
		buffers:   map[string]*parquetBuffer{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parquet) WriteSchema(stream string, schema map[string]any, keyProperties []string, bookmarkKey string) error {
	props, _ := schema["properties"].(map[string]any)
	fields := make([]string, 0, len(props))
	for name := range props {
		fields = append(fields, name)
	}

	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		tags = append(tags, fmt.Sprintf(
			`{"Tag":"name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"}`, f))
	}
	schemaStr := fmt.Sprintf(
		`{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[%s]}`,
		strings.Join(tags, ","))

	p.buffers[stream] = &parquetBuffer{
		schema: schemaStr,
		fields: fields,
	}
	return nil
}

func (p *Parquet) WriteRecord(stream string, record map[string]any, extracted time.Time) error {
	buf, ok := p.buffers[stream]
	if !ok {
		return fmt.Errorf("no schema registered for stream %s", stream)
	}

	row := make(map[string]string, len(buf.fields))
	for _, f := range buf.fields {
		v, ok := record[f]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			row[f] = s
		default:
			bs, err := json.Marshal(v)
			if err != nil {
				return err
			}
			row[f] = string(bs)
		}
	}

	encoded, err := json.Marshal(row)
	if err != nil {
		return err
	}
	buf.rows = append(buf.rows, string(encoded))

	if len(buf.rows) >= p.batchSize {
		return p.flush(context.Background(), stream, buf)
	}
	return nil
}

func (p *Parquet) WriteState(doc state.Document) error {
	return nil
}

func (p *Parquet) flush(ctx context.Context, stream string, buf *parquetBuffer) error {
	if len(buf.rows) == 0 {
		return nil
	}

	fw, err := buffer.NewBufferFile(make([]byte, 0))
	if err != nil {
		return err
	}
	pw, err := writer.NewJSONWriter(buf.schema, fw, 1)
	if err != nil {
		return err
	}

	for _, row := range buf.rows {
		if err := pw.Write(row); err != nil {
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%s-%05d.parquet", stream, stream, buf.seq)
	data := fw.(buffer.BufferFile).Bytes()
	if err := p.repo.Write(ctx, key, bytes.NewReader(data)); err != nil {
		return err
	}

	p.logger.Info("archived parquet batch",
		zap.String("stream", stream),
		zap.String("key", key),
		zap.Int("records", len(buf.rows)),
	)

	buf.rows = buf.rows[:0]
	buf.seq++
	return nil
}

func (p *Parquet) Close(ctx context.Context) error {
	for stream, buf := range p.buffers {
		if err := p.flush(ctx, stream, buf); err != nil {
			return err
		}
	}
	return nil
}
