package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"parking-service/internal/model"
)

// TimeLayout is the timestamp format of journal rows.
const TimeLayout = "2006-01-02 15:04:05"

var header = []string{"Plate Number", "Action", "Payment Status", "Timestamp", "Amount Due"}

var ErrBadHeader = errors.New("journal header invalid")

// Journal is the flat-file backup of the activity ledger: one CSV with a
// mandatory header, append-only except for the sanctioned mark-paid rewrite
// which replaces the file atomically so readers never observe a truncated
// journal. A sidecar <path>.pending holds rows that never reached the
// relational store.
type Journal struct {
	path string
	mu   sync.Mutex
}

func Open(path string) (*Journal, error) {
	j := &Journal{path: path}
	if err := j.ensureFile(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureFile() error {
	if _, err := os.Stat(j.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create journal: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write journal header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Append adds one record to the end of the journal.
func (j *Journal) Append(rec model.ActivityRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return appendRow(j.path, toRow(rec))
}

// ReadAll returns every record in file order. The header is validated on
// every read; a journal without the expected header is corrupt and refused.
func (j *Journal) ReadAll() ([]model.ActivityRecord, error) {
	rows, err := readRows(j.path, true)
	if err != nil {
		return nil, err
	}

	records := make([]model.ActivityRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("journal row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// History returns one plate's records in file order.
func (j *Journal) History(plate string) ([]model.ActivityRecord, error) {
	all, err := j.ReadAll()
	if err != nil {
		return nil, err
	}
	records := make([]model.ActivityRecord, 0, 4)
	for _, rec := range all {
		if rec.Plate == plate {
			records = append(records, rec)
		}
	}
	return records, nil
}

// MarkPaid flips the most recent unpaid entry without a later exit to paid
// and sets its amount. The whole file is rewritten to a temp file and
// renamed over the original in one step.
func (j *Journal) MarkPaid(plate string, amount float64) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := readRows(j.path, true)
	if err != nil {
		return false, err
	}

	target := -1
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if row[0] != plate {
			continue
		}
		if model.Action(row[1]) == model.ActionExit || model.Action(row[1]) == model.ActionUnauthorizedExit {
			// Stay already closed, nothing to pay.
			break
		}
		if model.Action(row[1]) == model.ActionEntry && row[2] == "0" {
			target = i
		}
		break
	}
	if target < 0 {
		return false, nil
	}

	rows[target][2] = "1"
	rows[target][4] = formatAmount(amount)

	if err := j.rewrite(rows); err != nil {
		return false, err
	}
	return true, nil
}

func (j *Journal) rewrite(rows [][]string) error {
	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, "journal-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}

// MarkPending appends the record to the pending sidecar so a reconciler can
// replay it into the relational store later.
func (j *Journal) MarkPending(rec model.ActivityRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return appendRow(j.pendingPath(), toRow(rec))
}

// TakePending removes and returns every pending record. Callers re-queue
// rows they fail to replay.
func (j *Journal) TakePending() ([]model.ActivityRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := readRows(j.pendingPath(), false)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	records := make([]model.ActivityRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("pending row %d: %w", i+1, err)
		}
		records = append(records, rec)
	}

	if err := os.Remove(j.pendingPath()); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return records, nil
}

func (j *Journal) pendingPath() string {
	return j.path + ".pending"
}

// PendingPayment is a payment accepted while the relational store was
// down, queued until a reconciler can replay the flip.
type PendingPayment struct {
	Plate    string
	Amount   float64
	MarkedAt time.Time
}

// MarkPendingPayment appends a payment marker to its own sidecar. Markers
// survive restarts, so a payment taken during an outage is never lost.
func (j *Journal) MarkPendingPayment(plate string, amount float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	row := []string{plate, formatAmount(amount), time.Now().Format(TimeLayout)}
	return appendRow(j.paymentsPath(), row)
}

// TakePendingPayments removes and returns every queued payment marker.
// Callers re-queue markers they fail to replay.
func (j *Journal) TakePendingPayments() ([]PendingPayment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.paymentsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	rows, err := r.ReadAll()
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read pending payments: %w", err)
	}

	payments := make([]PendingPayment, 0, len(rows))
	for i, row := range rows {
		amount, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("pending payment row %d: bad amount %q: %w", i+1, row[1], err)
		}
		ts, err := time.ParseInLocation(TimeLayout, row[2], time.Local)
		if err != nil {
			return nil, fmt.Errorf("pending payment row %d: bad timestamp %q: %w", i+1, row[2], err)
		}
		payments = append(payments, PendingPayment{Plate: row[0], Amount: amount, MarkedAt: ts})
	}

	if err := os.Remove(j.paymentsPath()); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return payments, nil
}

func (j *Journal) paymentsPath() string {
	return j.path + ".pending_payments"
}

func appendRow(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func readRows(path string, withHeader bool) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	if !withHeader {
		return all, nil
	}

	if len(all) == 0 || !validHeader(all[0]) {
		return nil, ErrBadHeader
	}
	return all[1:], nil
}

func validHeader(row []string) bool {
	if len(row) != len(header) {
		return false
	}
	for i, field := range header {
		if row[i] != field {
			return false
		}
	}
	return true
}

func toRow(rec model.ActivityRecord) []string {
	paid := "0"
	if rec.Paid {
		paid = "1"
	}
	return []string{
		rec.Plate,
		string(rec.Action),
		paid,
		rec.OccurredAt.Format(TimeLayout),
		formatAmount(rec.AmountDue),
	}
}

func fromRow(row []string) (model.ActivityRecord, error) {
	ts, err := time.ParseInLocation(TimeLayout, row[3], time.Local)
	if err != nil {
		return model.ActivityRecord{}, fmt.Errorf("bad timestamp %q: %w", row[3], err)
	}
	amount, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return model.ActivityRecord{}, fmt.Errorf("bad amount %q: %w", row[4], err)
	}

	action := model.Action(row[1])
	switch action {
	case model.ActionEntry, model.ActionExit, model.ActionUnauthorizedExit:
	default:
		return model.ActivityRecord{}, fmt.Errorf("unknown action %q", row[1])
	}

	return model.ActivityRecord{
		Plate:      row[0],
		Action:     action,
		Paid:       row[2] == "1",
		OccurredAt: ts,
		AmountDue:  amount,
	}, nil
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
