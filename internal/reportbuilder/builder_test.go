package reportbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storemon/storemon/internal/store"
)

type fakeReader struct {
	tz      string
	hours   map[time.Weekday]store.DayHours
	log     []store.StatusRow
	calls   int
}

func (f *fakeReader) Timezone(context.Context, int64) (string, error) { return f.tz, nil }
func (f *fakeReader) BusinessHours(context.Context, int64) (map[time.Weekday]store.DayHours, error) {
	return f.hours, nil
}
func (f *fakeReader) StatusLog(context.Context, int64, string) ([]store.StatusRow, error) {
	f.calls++
	return f.log, nil
}

func TestBuilder_ForStore_ReadsLogOnce(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{
		tz:    "UTC",
		hours: map[time.Weekday]store.DayHours{},
		log: []store.StatusRow{
			{StoreID: 1, IsOpen: true, TimeUTC: base, TimeLocal: base},
		},
	}

	b := New(reader)
	report, err := b.ForStore(context.Background(), 1, base)
	require.NoError(t, err)
	require.Equal(t, int64(1), report.StoreID)

	// the log is fetched once per report, not once per rolling window.
	require.Equal(t, 1, reader.calls)
}

func TestBuilder_ForStore_PropagatesReaderError(t *testing.T) {
	reader := &erroringReader{}
	b := New(reader)
	_, err := b.ForStore(context.Background(), 42, time.Now())
	require.Error(t, err)
}

type erroringReader struct{}

func (erroringReader) Timezone(context.Context, int64) (string, error) {
	return "", assertErr
}
func (erroringReader) BusinessHours(context.Context, int64) (map[time.Weekday]store.DayHours, error) {
	return nil, assertErr
}
func (erroringReader) StatusLog(context.Context, int64, string) ([]store.StatusRow, error) {
	return nil, assertErr
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
