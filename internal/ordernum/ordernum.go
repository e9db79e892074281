package ordernum

import (
	"strconv"

	"github.com/theplant/luhn"
)

// Номер заказа: значение последовательности БД + контрольная цифра по Луну.
// Некорректный номер отсекается до обращения к хранилищу

func Build(seq int) string {
	return strconv.Itoa(seq*10 + luhn.CalculateLuhn(seq))
}

func Valid(number string) bool {
	if number == "" {
		return false
	}
	n, err := strconv.Atoi(number)
	if err != nil || n <= 0 {
		return false
	}
	return luhn.Valid(n)
}
