package statedb

// TransactionContext hands out the transaction of the current processing
// round. State components call Current for every read and write, so
// everything a round does lands in one transaction.
//
// A TransactionContext belongs to one partition goroutine and is not safe
// for concurrent use.
type TransactionContext struct {
	db      *DB
	current *Txn
}

// NewTransactionContext returns a context over db.
func NewTransactionContext(db *DB) *TransactionContext {
	return &TransactionContext{db: db}
}

// DB returns the underlying database.
func (c *TransactionContext) DB() *DB {
	return c.db
}

// Current returns the open transaction, starting one if needed.
func (c *TransactionContext) Current() (*Txn, error) {
	if c.current != nil {
		return c.current, nil
	}
	txn, err := c.db.Begin()
	if err != nil {
		return nil, err
	}
	c.current = txn
	return txn, nil
}

// Commit commits the open transaction, if any.
func (c *TransactionContext) Commit() error {
	if c.current == nil {
		return nil
	}
	txn := c.current
	c.current = nil
	if err := txn.Commit(); err != nil {
		txn.Discard()
		return err
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (c *TransactionContext) Rollback() {
	if c.current == nil {
		return
	}
	c.current.Discard()
	c.current = nil
}
