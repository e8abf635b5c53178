package fetch

import "fmt"

// TransientFetchError возвращается, когда попытки обращения к ленте исчерпаны.
// Запуск, получивший эту ошибку, завершается со статусом failed.
type TransientFetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: попытки исчерпаны (%d): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }
