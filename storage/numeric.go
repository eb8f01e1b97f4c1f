// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import "strconv"

func parseInt64(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

func formatInt64(n int64) string {
	return strconv.FormatInt(n, 10)
}

func parseFloat64(b []byte) (float64, error) {
	return strconv.ParseFloat(string(b), 64)
}

func formatFloat64(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
