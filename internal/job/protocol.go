package job

import (
	"strconv"
	"strings"

	"marcutd/pkg/types"
)

// linePrefix marks machine-readable progress lines in the worker's output.
// Two forms exist:
//
//	MARCUT:<phase>|Stage:NN%|Overall:NN%
//	MARCUT:<free-form status message>
//
// Anything without the prefix is ordinary log output.
const linePrefix = "MARCUT:"

// parseLine interprets one worker output line. ok is false for lines that
// carry no progress information.
func parseLine(line string) (types.ProgressUpdate, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, linePrefix) {
		return types.ProgressUpdate{}, false
	}
	body := line[len(linePrefix):]

	parts := strings.Split(body, "|")
	if len(parts) == 3 {
		stage, stageOK := parsePercent(parts[1], "Stage:")
		overall, overallOK := parsePercent(parts[2], "Overall:")
		if stageOK && overallOK {
			return types.ProgressUpdate{
				Phase:   strings.TrimSpace(parts[0]),
				Stage:   stage,
				Overall: overall,
			}, true
		}
	}
	return types.ProgressUpdate{Message: strings.TrimSpace(body)}, true
}

func parsePercent(field, key string) (float64, bool) {
	field = strings.TrimSpace(field)
	if !strings.HasPrefix(field, key) {
		return 0, false
	}
	v := strings.TrimSuffix(strings.TrimSpace(field[len(key):]), "%")
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}
