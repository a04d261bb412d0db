package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// requestError is returned for invalid query parameters; handlers translate
// it into a 400 response.
type requestError struct {
	parameter string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("query parameter %q is out of range", e.parameter)
}

func parseParams(q url.Values) (params, error) {
	from, err := parseOptTimestamp(q, "from")
	if err != nil {
		return params{}, err
	}
	to, err := parseOptTimestamp(q, "to")
	if err != nil {
		return params{}, err
	}
	blockNumber, err := parseOptNonNegInt(q, "block_number")
	if err != nil {
		return params{}, err
	}
	proposerIndex, err := parseOptNonNegInt(q, "proposer_index")
	if err != nil {
		return params{}, err
	}
	propagationTime, err := parseOptNonNegInt(q, "propagation_time")
	if err != nil {
		return params{}, err
	}
	minTip, err := parseOptNonNegInt(q, "min_tip")
	if err != nil {
		return params{}, err
	}
	minNumMisses, err := parseOptNonNegInt(q, "min_num_misses")
	if err != nil {
		return params{}, err
	}

	var sender *string
	if s := q.Get("sender"); s != "" {
		if len(s) != 42 {
			return params{}, &requestError{parameter: "sender"}
		}
		sender = &s
	}

	ascending := isAscending(from, to)
	orderedFrom, orderedTo := orderTimestamps(from, to)

	return params{
		from:                   orderedFrom,
		to:                     orderedTo,
		blockNumber:            blockNumber,
		proposerIndex:          proposerIndex,
		sender:                 sender,
		propagationTimeSeconds: propagationTime,
		minTip:                 minTip,
		minNumMisses:           minNumMisses,
		ascending:              ascending,
	}, nil
}

func parseOptTimestamp(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return nil, &requestError{parameter: key}
	}
	t := time.Unix(secs, 0).UTC()
	return &t, nil
}

func parseOptNonNegInt(q url.Values, key string) (*int64, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil, &requestError{parameter: key}
	}
	return &n, nil
}

func orderTimestamps(from, to *time.Time) (*time.Time, *time.Time) {
	if from == nil || to == nil {
		return from, to
	}
	if from.After(*to) {
		return to, from
	}
	return from, to
}

// isAscending reports whether results should be ordered earliest-first. Per
// the API contract, from > to requests reversed (latest-first) ordering;
// every other combination, including either bound being absent, is ascending.
func isAscending(from, to *time.Time) bool {
	if from == nil || to == nil {
		return true
	}
	return !from.After(*to)
}

func writeRequestError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err.Error())
}

func writeInternalError(w http.ResponseWriter) {
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
