/*
Copyright (C) 2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"
	"github.com/fsnotify/fsnotify"

	hybridstore "github.com/launix-de/hybridstore"
)

const newprompt = "\033[32mhybridbench>\033[0m "
const resultprompt = "\033[31m=\033[0m "

func main() {
	dir := flag.String("dir", "./hybridbench-data", "checkpoint/log directory")
	memSize := flag.String("memory", "64MB", "resident memory budget")
	pageSize := flag.String("pagesize", "1MB", "log page size (power of two)")
	indexBits := flag.Int("indexbits", 12, "initial hash index size in bits")
	flag.Parse()

	fmt.Print(`hybridbench Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	cfg := hybridstore.Config{
		CheckpointDirectory: *dir,
		IndexSizeBits:       uint8(*indexBits),
		MemorySize:          *memSize,
		PageSize:            *pageSize,
		SectorAlignment:     512,
		Functions:           byteValueFunctions{},
		Keys:                byteKeyOps{},
	}
	store, err := hybridstore.NewStore(cfg)
	if err != nil {
		panic(err)
	}

	// onexit.Register closes the store on SIGINT/SIGTERM the same way
	// storage/settings.go registers its trace-file close, so a REPL
	// killed from another terminal still releases its device handles
	// instead of leaving them open.
	onexit.Register(func() {
		if err := store.Dispose(); err != nil {
			fmt.Println("shutdown: error closing store:", err)
		}
	})

	watchCheckpoints(*dir)

	sess := store.StartSession()
	defer sess.StopSession()

	repl(store, sess)
}

// watchCheckpoints prints a line whenever a new checkpoint metadata
// file lands in dir, so a user driving the REPL in one terminal can
// see a TakeFullCheckpoint issued from another complete without
// polling CompleteCheckpoint themselves.
func watchCheckpoints(dir string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Println("checkpoint watch disabled:", err)
		return
	}
	if err := watcher.Add(dir); err != nil {
		// Directory does not exist yet; the store creates it lazily on
		// the first checkpoint, so this is not fatal.
		return
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && strings.HasSuffix(ev.Name, ".meta") {
					fmt.Println("\ncheckpoint file ready:", ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Println("checkpoint watch error:", err)
			}
		}
	}()
}

func repl(store *hybridstore.Store, sess *hybridstore.Session) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".hybridbench-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Println("commands: get <key> | set <key> <value> | rmw <key> <delta> | checkpoint | recover <indexToken> <hybridlogToken> | quit")
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !runCommand(store, sess, line) {
			break
		}
	}
}

func runCommand(store *hybridstore.Store, sess *hybridstore.Session, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit":
		return false
	case "get":
		if len(fields) != 2 {
			fmt.Println("usage: get <key>")
			return true
		}
		status := sess.Read([]byte(fields[1]), nil, func(output []byte, status hybridstore.Status) {
			if status == hybridstore.StatusOK {
				fmt.Println(resultprompt, string(output))
			} else {
				fmt.Println(resultprompt, status)
			}
		})
		if status == hybridstore.StatusPending {
			sess.CompletePending(true)
		}
	case "set":
		if len(fields) < 3 {
			fmt.Println("usage: set <key> <value>")
			return true
		}
		value := strings.Join(fields[2:], " ")
		status := sess.Upsert([]byte(fields[1]), []byte(value))
		fmt.Println(resultprompt, status)
	case "rmw":
		if len(fields) != 3 {
			fmt.Println("usage: rmw <key> <delta>")
			return true
		}
		if _, err := strconv.ParseInt(fields[2], 10, 64); err != nil {
			fmt.Println("delta must be an integer:", err)
			return true
		}
		status := sess.RMW([]byte(fields[1]), []byte(fields[2]))
		fmt.Println(resultprompt, status)
	case "checkpoint":
		token, err := store.TakeFullCheckpoint()
		if err != nil {
			fmt.Println("checkpoint failed:", err)
			return true
		}
		fmt.Println("checkpoint started, token:", token)
	case "recover":
		if len(fields) != 3 {
			fmt.Println("usage: recover <indexToken> <hybridlogToken>")
			return true
		}
		info, err := store.Recover(fields[1], fields[2])
		if err != nil {
			fmt.Println("recover failed:", err)
			return true
		}
		fmt.Printf("recovered version %d, %d session continuation tokens\n", info.Version, len(info.ContinueTokens))
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return true
}

// byteValueFunctions treats values as opaque byte strings for get/set,
// and as base-10 signed integers for rmw's accumulate-a-delta demo.
type byteValueFunctions struct{}

func (byteValueFunctions) SingleReader(key, input, value []byte) []byte     { return append([]byte(nil), value...) }
func (byteValueFunctions) ConcurrentReader(key, input, value []byte) []byte { return append([]byte(nil), value...) }

func (byteValueFunctions) SingleWriter(key, value, dst []byte) int {
	return copy(dst, value)
}

func (byteValueFunctions) ConcurrentWriter(key, value, dst []byte) bool {
	if len(value) > len(dst) {
		return false
	}
	copy(dst, value)
	return true
}

func (byteValueFunctions) InitialUpdater(key, input, dst []byte) int {
	delta, _ := strconv.ParseInt(string(input), 10, 64)
	return copy(dst, []byte(strconv.FormatInt(delta, 10)))
}

func (byteValueFunctions) CopyUpdater(key, input, oldValue, dst []byte) int {
	cur, _ := strconv.ParseInt(string(oldValue), 10, 64)
	delta, _ := strconv.ParseInt(string(input), 10, 64)
	return copy(dst, []byte(strconv.FormatInt(cur+delta, 10)))
}

func (byteValueFunctions) InPlaceUpdater(key, input, value []byte) bool {
	cur, _ := strconv.ParseInt(string(value), 10, 64)
	delta, _ := strconv.ParseInt(string(input), 10, 64)
	encoded := []byte(strconv.FormatInt(cur+delta, 10))
	if len(encoded) > len(value) {
		return false
	}
	copy(value, encoded)
	for i := len(encoded); i < len(value); i++ {
		value[i] = ' '
	}
	return true
}

// byteKeyOps is the default Key capability: FNV-1a hashing; a record's
// physical size is its raw key plus value length, and the initial size
// for an RMW-created record reserves 24 value bytes beyond the key.
type byteKeyOps struct{}

func (byteKeyOps) Hash(key []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range key {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

func (byteKeyOps) Equal(a, b []byte) bool { return string(a) == string(b) }

func (byteKeyOps) GetInitialPhysicalSize(key, input []byte) int64 {
	return int64(len(key) + 24)
}

func (byteKeyOps) GetPhysicalSize(key, value []byte) int64 {
	return int64(len(key) + len(value))
}
