package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestFinalStatus(t *testing.T) {
	tests := []struct {
		name       string
		successful int
		failed     int
		want       BatchStatus
	}{
		{"all good", 3, 0, BatchCompleted},
		{"no rows", 0, 0, BatchCompleted},
		{"some bad", 2, 1, BatchPartial},
		{"all bad", 0, 3, BatchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FinalStatus(tt.successful, tt.failed); got != tt.want {
				t.Errorf("FinalStatus(%d, %d) = %s, want %s", tt.successful, tt.failed, got, tt.want)
			}
		})
	}
}

func TestBatchAccumulator_Finish(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewImportBatch("b1", "u1", SourceBankTransaction, "x.csv", now)

	var acc BatchAccumulator
	acc.Expect(3)
	acc.Succeed()
	acc.Failf(2, errors.New("unable to parse date: nope"))
	acc.Succeed()
	acc.Finish(b, now)

	if b.TotalRecords != 3 || b.SuccessfulRecords != 2 || b.FailedRecords != 1 {
		t.Fatalf("counters = %d/%d/%d, want 3/2/1", b.TotalRecords, b.SuccessfulRecords, b.FailedRecords)
	}
	if b.Status != BatchPartial {
		t.Errorf("Status = %s, want PARTIAL", b.Status)
	}
	if b.ErrorLog == nil || *b.ErrorLog != "Row 2: unable to parse date: nope" {
		t.Errorf("ErrorLog = %v", b.ErrorLog)
	}
	if !b.Done() {
		t.Error("expected completion to be recorded")
	}
}

func TestImportBatch_Fail(t *testing.T) {
	now := time.Now()
	b := NewImportBatch("b1", "u1", SourceBankTransaction, "x.csv", now)
	b.SuccessfulRecords = 5

	b.Fail("first", now)
	b.Fail("second", now)

	if b.Status != BatchFailed {
		t.Errorf("Status = %s, want FAILED", b.Status)
	}
	if *b.ErrorLog != "first\nsecond" {
		t.Errorf("ErrorLog = %q", *b.ErrorLog)
	}
}

func TestImportBatch_ErrorLogTruncated(t *testing.T) {
	b := NewImportBatch("b1", "u1", SourceBankTransaction, "x.csv", time.Now())
	b.Fail(strings.Repeat("x", 5000), time.Now())

	if len(*b.ErrorLog) != maxErrorLineLen {
		t.Errorf("len(ErrorLog) = %d, want %d", len(*b.ErrorLog), maxErrorLineLen)
	}
}

func TestImportBatch_ErrorLogKeepsValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"rune across the cut", strings.Repeat("a", maxErrorLineLen-1) + "é tail"},
		{"invalid input bytes", "unable to parse date: caf\xe9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewImportBatch("b1", "u1", SourceBankTransaction, "x.csv", time.Now())
			b.Fail(tt.msg, time.Now())

			if !utf8.ValidString(*b.ErrorLog) {
				t.Errorf("ErrorLog is not valid UTF-8: %q", *b.ErrorLog)
			}
			if len(*b.ErrorLog) > maxErrorLineLen {
				t.Errorf("len(ErrorLog) = %d, want <= %d", len(*b.ErrorLog), maxErrorLineLen)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本", 4, "日"},
	}

	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestBatchAccumulator_KeepsEveryRowError(t *testing.T) {
	now := time.Now()
	b := NewImportBatch("b1", "u1", SourceBankTransaction, "x.csv", now)

	var acc BatchAccumulator
	acc.Expect(300)
	for row := 1; row <= 300; row++ {
		acc.Failf(row, errors.New("unable to parse date: yesterday"))
	}
	acc.Finish(b, now)

	lines := strings.Split(*b.ErrorLog, "\n")
	if len(lines) != 300 {
		t.Fatalf("got %d error lines, want 300", len(lines))
	}
	if lines[299] != "Row 300: unable to parse date: yesterday" {
		t.Errorf("last line = %q", lines[299])
	}
}

func TestBatchAccumulator_SummarizesOverflow(t *testing.T) {
	now := time.Now()
	b := NewImportBatch("b1", "u1", SourceBankTransaction, "x.csv", now)

	var acc BatchAccumulator
	long := errors.New(strings.Repeat("x", 1000))
	rows := 100
	acc.Expect(rows)
	for row := 1; row <= rows; row++ {
		acc.Failf(row, long)
	}
	acc.Finish(b, now)

	log := *b.ErrorLog
	if len(log) > maxErrorLogLen-maxErrorLineLen {
		t.Errorf("len(ErrorLog) = %d leaves no room for a later message", len(log))
	}
	if !strings.HasPrefix(log, "Row 1: ") {
		t.Errorf("log should start with the first row, got %q", log[:20])
	}
	if !strings.Contains(log, "more rows failed") {
		t.Error("expected an overflow summary line")
	}

	// A failed final write still records its reason.
	b.Abort("bulk insert failed", now)
	if !strings.HasSuffix(*b.ErrorLog, "\nbulk insert failed") {
		t.Errorf("abort reason missing from log tail %q", (*b.ErrorLog)[len(*b.ErrorLog)-40:])
	}
}

func TestImportBatch_Abort(t *testing.T) {
	b := NewImportBatch("b1", "u1", SourceBankTransaction, "x.csv", time.Now())
	b.TotalRecords = 4
	b.SuccessfulRecords = 3
	b.FailedRecords = 1

	b.Abort("bulk insert failed", time.Now())

	if b.SuccessfulRecords != 0 || b.FailedRecords != 4 {
		t.Errorf("counters = %d/%d, want 0/4", b.SuccessfulRecords, b.FailedRecords)
	}
	if b.Status != FinalStatus(b.SuccessfulRecords, b.FailedRecords) {
		t.Errorf("Status %s disagrees with counters", b.Status)
	}
}
