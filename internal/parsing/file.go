package parsing

import (
	"bufio"
	"os"

	"github.com/sirupsen/logrus"

	"salecollect/server/internal/models"
)

// Lines in the bulk feed are short, but a corrupted file can glue rows
// together; give the scanner room before it gives up on a line.
const maxLineBytes = 1024 * 1024

// FileParser reads one .DAT file and accumulates its decoded events in
// file order. Per-line failures are logged and skipped; they never
// propagate to the caller.
type FileParser struct {
	decoder *RecordDecoder
	logger  *logrus.Logger
}

func NewFileParser(logger *logrus.Logger) *FileParser {
	return &FileParser{
		decoder: NewRecordDecoder(logger),
		logger:  logger,
	}
}

// ParseFile returns the events decoded from the file at path. An unreadable
// file or a file yielding zero events is a valid outcome: the batch must
// continue, so both are logged and an empty slice comes back.
func (p *FileParser) ParseFile(path string) []models.Event {
	file, err := os.Open(path)
	if err != nil {
		p.logger.WithError(err).WithField("file", path).Warn("Failed to open file")
		return nil
	}
	defer file.Close()

	var events []models.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		event, err := p.decoder.Decode(scanner.Text(), lineNum)
		if err != nil {
			// Already logged by the decoder with line context.
			continue
		}
		if event != nil {
			events = append(events, *event)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"file": path,
			"line": lineNum + 1,
		}).Warn("Stopped reading file")
	}

	if len(events) == 0 {
		p.logger.WithField("file", path).Warn("File produced no valid sale records")
	}
	return events
}
