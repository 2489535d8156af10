package consensus

// ExpectedMessages returns how many relay messages a lieutenant with k peer
// lieutenants receives under OM(m): the sum over i in 1..min(m, k) of the
// falling factorial k*(k-1)*...*(k-i+1).
func ExpectedMessages(k, m int) int {
	if k <= 0 || m <= 0 {
		return 0
	}
	count, term := 0, k
	for i := 1; i <= min(m, k); i++ {
		count += term
		term *= k - i
	}
	return count
}

// Majority returns true only when true values outnumber false ones, so ties
// resolve to false.
func Majority(values ...bool) bool {
	trues := 0
	for _, v := range values {
		if v {
			trues++
		}
	}
	return trues > len(values)-trues
}
