package syncer

// runOptimistic is the transactional shape every store mutation follows:
// under the lock, reject if an action for the appointment is already in
// flight, then let begin apply the tentative mutation and hand back its
// rollback; run the network request with the lock released; on failure,
// restore the snapshot before the error escapes.
func (s *Store) runOptimistic(id int64, begin func() (rollback func(), err error), request func() error) error {
	s.mu.Lock()
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return ErrActionInFlight
	}

	rollback, err := begin()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.pending[id] = struct{}{}
	s.mu.Unlock()

	reqErr := request()

	s.mu.Lock()
	delete(s.pending, id)
	if reqErr != nil {
		rollback()
	}
	s.mu.Unlock()

	return reqErr
}
