package classifier

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads a class vocabulary from path
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels accepts a JSON object mapping class name to index, a JSON
// array of names, or one name per line. Indices must be dense from zero.
func ParseLabels(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("labels file is empty")
	}

	switch trimmed[0] {
	case '{':
		var classToIdx map[string]int
		if err := json.Unmarshal(trimmed, &classToIdx); err != nil {
			return nil, fmt.Errorf("invalid class index map: %w", err)
		}
		return fromIndexMap(classToIdx)
	case '[':
		var labels []string
		if err := json.Unmarshal(trimmed, &labels); err != nil {
			return nil, fmt.Errorf("invalid label array: %w", err)
		}
		if len(labels) == 0 {
			return nil, fmt.Errorf("label array is empty")
		}
		return labels, nil
	default:
		return fromLines(trimmed)
	}
}

func fromIndexMap(classToIdx map[string]int) ([]string, error) {
	labels := make([]string, len(classToIdx))
	for name, idx := range classToIdx {
		if idx < 0 || idx >= len(labels) {
			return nil, fmt.Errorf("class %q has index %d outside [0,%d)", name, idx, len(labels))
		}
		if labels[idx] != "" {
			return nil, fmt.Errorf("index %d assigned to both %q and %q", idx, labels[idx], name)
		}
		labels[idx] = name
	}
	return labels, nil
}

func fromLines(data []byte) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}

// LabelAt returns the label for a class index. An index outside the
// vocabulary means the labels do not belong to the model.
func LabelAt(labels []string, idx int) (string, error) {
	if idx < 0 || idx >= len(labels) {
		return "", fmt.Errorf("class index %d outside label vocabulary of %d", idx, len(labels))
	}
	return labels[idx], nil
}
