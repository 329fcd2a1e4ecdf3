// Command inspect prints the messages stored in a board's badger directory.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"message-board/infrastructure/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "db.badger", "Path to badger DB")
	limit := flag.Int("limit", 0, "Stop after this many messages (0 = all)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "ID", "Created", "Updated", "From", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(storage.MessagePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if *limit > 0 && count >= *limit {
				return nil
			}
			item := it.Item()
			err := item.Value(func(v []byte) error {
				message, err := storage.DecodeMessage(v)
				if err != nil {
					// Keep going, one corrupted entry should not hide the others
					fmt.Printf("Error decoding key %s: %v\n", string(item.Key()), err)
					return nil
				}
				table.Append([]string{
					string(item.Key()),
					message.ID.String(),
					message.CreatedAt.Format(time.RFC3339),
					message.UpdatedAt.Format(time.RFC3339),
					message.From,
					message.Content,
				})
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d message(s)\n", count)
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
