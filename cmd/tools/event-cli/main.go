package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/voxelgen/internal/eventbus"
)

const (
	defaultNATSURL = "nats://localhost:4222"
	defaultStream  = "VOXEL_EVENTS"
	timeFormat     = "2006-01-02T15:04:05Z"

	// Пауза чтения, после которой поток считается выбранным до конца
	drainTimeout = 2 * time.Second
)

func main() {
	var (
		natsURL    = flag.String("nats", defaultNATSURL, "Адрес NATS сервера")
		streamName = flag.String("stream", defaultStream, "Имя JetStream стрима событий")
		command    = flag.String("cmd", "tail", "Команда: tail, stats")
		eventTypes = flag.String("types", "", "Фильтр типов событий (через запятую)")
		since      = flag.String("since", "1h", "Глубина воспроизведения от текущего момента (1h, 30m) или время RFC3339")
		limit      = flag.Int("limit", 100, "Максимум событий")
		follow     = flag.Bool("follow", false, "Не останавливаться на хвосте стрима (как tail -f)")
	)
	flag.Parse()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к NATS: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("❌ JetStream недоступен: %v", err)
	}

	opts := &tailOptions{
		Stream: *streamName,
		Types:  parseStringList(*eventTypes),
		Since:  *since,
		Limit:  *limit,
		Follow: *follow,
	}

	switch *command {
	case "tail":
		if err := tailEvents(js, opts); err != nil {
			log.Fatalf("❌ Tail не удался: %v", err)
		}

	case "stats":
		if err := showStats(js, opts); err != nil {
			log.Fatalf("❌ Stats не удался: %v", err)
		}

	default:
		fmt.Printf("❌ Неизвестная команда: %s\n", *command)
		fmt.Println("Доступные команды: tail, stats")
		os.Exit(1)
	}
}

type tailOptions struct {
	Stream string
	Types  []string
	Since  string
	Limit  int
	Follow bool
}

// subject возвращает subject подписки: точный для одного типа,
// групповой с клиентской фильтрацией для нескольких.
func (o *tailOptions) subject() string {
	if len(o.Types) == 1 {
		return "events." + o.Types[0]
	}
	return "events.>"
}

// matches проверяет событие против фильтра типов.
func (o *tailOptions) matches(ev *eventbus.Envelope) bool {
	if len(o.Types) == 0 {
		return true
	}
	for _, t := range o.Types {
		if ev.EventType == t {
			return true
		}
	}
	return false
}

// tailEvents воспроизводит события стрима с момента since и печатает их.
// В режиме follow подписка остаётся открытой и печатает новые события.
func tailEvents(js nats.JetStreamContext, opts *tailOptions) error {
	start, err := parseSinceTime(opts.Since, time.Now())
	if err != nil {
		return fmt.Errorf("неверное значение since: %w", err)
	}

	fmt.Printf("🎬 События с %s (limit: %d, follow: %v)\n", start.Format(timeFormat), opts.Limit, opts.Follow)

	count := 0
	err = consume(js, opts, start, func(ev *eventbus.Envelope) bool {
		printEvent(ev)
		count++
		return opts.Limit <= 0 || count < opts.Limit
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n📊 Всего событий: %d\n", count)
	return nil
}

// showStats агрегирует события окна по типам и печатает состояние стрима.
func showStats(js nats.JetStreamContext, opts *tailOptions) error {
	start, err := parseSinceTime(opts.Since, time.Now())
	if err != nil {
		return fmt.Errorf("неверное значение since: %w", err)
	}

	fmt.Println("📊 Статистика событий")

	byType := map[string]int{}
	total := 0
	statsOpts := *opts
	statsOpts.Follow = false // статистика всегда по уже записанному окну
	statsOpts.Limit = 0
	err = consume(js, &statsOpts, start, func(ev *eventbus.Envelope) bool {
		byType[ev.EventType]++
		total++
		return true
	})
	if err != nil {
		return err
	}

	fmt.Printf("Период: %s - %s\n", start.Format(timeFormat), time.Now().UTC().Format(timeFormat))
	fmt.Printf("Событий в окне: %d\n", total)

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Println("\nПо типам:")
	for _, t := range types {
		fmt.Printf("  %s: %d\n", t, byType[t])
	}

	info, err := js.StreamInfo(opts.Stream)
	if err != nil {
		return fmt.Errorf("стрим %s недоступен: %w", opts.Stream, err)
	}
	fmt.Printf("\nСтрим %s: %d сообщений, %d байт\n", info.Config.Name, info.State.Msgs, info.State.Bytes)
	if info.State.Msgs > 0 {
		fmt.Printf("  Первое: %s\n", info.State.FirstTime.Format(timeFormat))
		fmt.Printf("  Последнее: %s\n", info.State.LastTime.Format(timeFormat))
	}
	return nil
}

// consume читает события стрима начиная с start и передаёт их handler.
// Handler возвращает false, когда лимит достигнут. Без follow чтение
// завершается, как только стрим выбран до конца.
func consume(js nats.JetStreamContext, opts *tailOptions, start time.Time, handler func(*eventbus.Envelope) bool) error {
	sub, err := js.SubscribeSync(opts.subject(),
		nats.OrderedConsumer(),
		nats.StartTime(start),
		nats.BindStream(opts.Stream),
	)
	if err != nil {
		return fmt.Errorf("подписка на стрим: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		msg, err := sub.NextMsg(drainTimeout)
		if err == nats.ErrTimeout {
			if opts.Follow {
				continue
			}
			return nil
		}
		if err != nil {
			return err
		}

		var ev eventbus.Envelope
		if uerr := json.Unmarshal(msg.Data, &ev); uerr != nil {
			fmt.Printf("⚠️  Нечитаемое событие в %s: %v\n", msg.Subject, uerr)
			continue
		}
		if !opts.matches(&ev) {
			continue
		}
		if !handler(&ev) {
			return nil
		}
	}
}

// printEvent печатает событие в одну строку плюс детали полезной нагрузки.
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] prio=%d %s\n",
		ev.Timestamp.Format("15:04:05"),
		ev.Source,
		ev.EventType,
		ev.Priority,
		ev.ID)

	if strings.HasPrefix(ev.EventType, "chunk.") {
		p, err := eventbus.DecodeChunkEvent(ev)
		if err != nil {
			fmt.Printf("  ⚠️  нагрузка не разобрана: %v\n", err)
			return
		}
		fmt.Printf("  Чанк: (%d,%d) seed=%d origin=%s\n", p.ChunkX, p.ChunkZ, p.Seed, p.Origin)
		if p.ContentHash != "" {
			fmt.Printf("  Хеш: %s… вершин: %d, %d мс\n", shortHash(p.ContentHash), p.VertexCount, p.DurationMs)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m"
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return from, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(timeFormat, since)
	}

	return from.Add(-duration), nil
}
