// Package store persists benchmark results in a SQLite database.
//
// Each completed scenario becomes one row in the runs table, with one row
// per sender in the senders table holding that node's delivery figures.
//
//	st, err := store.Open("meshbench.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
//	id, err := st.SaveRun(ctx, result)
//	run, err := st.GetRun(ctx, id)
//
// The path ":memory:" opens a private in-memory database.
package store
