// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import "math"

// busyCurve maps a busy rating to the fraction of total capacity the
// scheduler may hand out at that rating. Fail-closed friendly: the curve
// reaches zero at rating 10.
var busyCurve = [11]float64{
	0:  1.00,
	1:  1.00,
	2:  1.00,
	3:  0.80,
	4:  0.65,
	5:  0.50,
	6:  0.35,
	7:  0.25,
	8:  0.15,
	9:  0.10,
	10: 0.00,
}

// usableUnits computes the capacity units the scheduler may lease at the
// given busy rating, after shaving the configured headroom and subtracting
// the fixed reserve.
func usableUnits(total, reserve int, headroom float64, busy int) int {
	if busy < 0 {
		busy = 0
	} else if busy > 10 {
		busy = 10
	}
	usable := int(math.Floor(float64(total)*busyCurve[busy]*(1-headroom))) - reserve
	if usable < 0 {
		return 0
	}
	return usable
}
