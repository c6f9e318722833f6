package clickhouse

import (
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestClientOptions(t *testing.T) {
	opts := ClientConfig{
		Host:         "ch",
		Database:     "gridcast",
		User:         "default",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  time.Minute,
		AsyncInsert:  true,
		WaitForAsync: true,
		Compress:     true,
	}.options()

	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, clickhouse.Native, opts.Protocol)
	assert.Equal(t, "default", opts.Auth.Username)
	assert.Empty(t, opts.Auth.Database)
	assert.Equal(t, 60, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.Equal(t, 1, opts.Settings["wait_for_async_insert"])
	assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)

	httpOpts := ClientConfig{Host: "h", UseHTTP: true}.options()
	assert.Equal(t, []string{"h:8123"}, httpOpts.Addr)
	assert.Equal(t, clickhouse.HTTP, httpOpts.Protocol)
	assert.Nil(t, httpOpts.Compression)
	assert.NotContains(t, httpOpts.Settings, "async_insert")
}

func TestSchemaQualifiesTables(t *testing.T) {
	stmts := Schema("gc")
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS gc", stmts[0])
	for _, table := range []string{TableRecords, TableAuxSeries, TableModels, TableActiveModel, TableTrials, TableBestTrials, TableSnapshots} {
		found := false
		for _, s := range stmts {
			if strings.Contains(s, "gc."+table+" ") {
				found = true
			}
		}
		assert.True(t, found, table)
	}
}

func TestTable(t *testing.T) {
	assert.Equal(t, "gc.x", NewFromDB(nil, "gc").Table("x"))
	assert.Equal(t, "x", NewFromDB(nil, "").Table("x"))
}
