package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"

	"market-chat/domain"
	"market-chat/queue"
)

type Config struct {
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	ConsumerGroup string `envconfig:"CONSUMER_GROUP" default:"fanout"`
	// INSPECT_COLOURS enables colorized section headers
	Colours bool `envconfig:"INSPECT_COLOURS" default:"true"`
}

func main() {
	dbPath := flag.String("db", "/tmp/market-chat/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	partitions := flag.Int("partitions", 4, "Number of queue partitions")
	skipQueue := flag.Bool("skip-queue", false, "Skip the redis stream section")
	flag.Parse()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("Error while loading config: ", err)
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	printHeader(cfg, fmt.Sprintf(" BADGER %s ", *prefix))
	if err := dumpStore(db, *prefix); err != nil {
		log.Fatal(err)
	}

	if !*skipQueue {
		printHeader(cfg, " INGESTION QUEUE ")
		if err := dumpQueue(cfg, *partitions); err != nil {
			log.Fatal(err)
		}
	}
}

func printHeader(cfg Config, header string) {
	if cfg.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	fmt.Println(header)
}

func dumpStore(db *badger.DB, prefix string) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Chat", "Timestamp", "Sender", "Status", "Content"})
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

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()

			// Secondary indexes carry no payload worth rendering.
			key := string(item.Key())
			if strings.HasPrefix(key, "msgidx:") || strings.HasPrefix(key, "job:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				table.Append(messageRow(key, v))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

func messageRow(key string, value []byte) []string {
	var message domain.Message
	if err := json.Unmarshal(value, &message); err != nil {
		return []string{key, "?", "?", "?", "RAW", fmt.Sprintf("%d bytes", len(value))}
	}

	timestamp := "--:--:--"
	if parts := strings.Split(key, ":"); len(parts) >= 3 {
		if tsNano, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			timestamp = time.Unix(0, tsNano).Format("15:04:05")
		}
	}

	content := message.Content
	if len(content) > 48 {
		content = content[:48] + "…"
	}

	return []string{
		key,
		shortID(message.ChatID.String()),
		timestamp,
		message.SenderID,
		string(message.Status),
		content,
	}
}

func dumpQueue(cfg Config, partitions int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Stream", "Length", "Pending"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for partition := 0; partition < partitions; partition++ {
		stream := queue.StreamName(partition)
		length, err := rdb.XLen(ctx, stream).Result()
		if err != nil {
			return err
		}

		pending := "0"
		if summary, err := rdb.XPending(ctx, stream, cfg.ConsumerGroup).Result(); err == nil {
			pending = strconv.FormatInt(summary.Count, 10)
		}
		table.Append([]string{stream, strconv.FormatInt(length, 10), pending})
	}

	deadLength, err := rdb.XLen(ctx, queue.DeadLetterStream).Result()
	if err != nil {
		return err
	}
	table.Append([]string{queue.DeadLetterStream, strconv.FormatInt(deadLength, 10), "-"})

	table.Render()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)
	return badger.Open(opts)
}
