package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Lomkaaa/M-Store-server/internal/model"
	"github.com/Lomkaaa/M-Store-server/internal/ordernum"
	"github.com/Lomkaaa/M-Store-server/internal/store/config"
)

type Store interface {
	AuthRegister(ctx context.Context, login string, passwordHash string) (int, error)
	AuthLogin(ctx context.Context, login string) (int, string, error)
	UserGet(ctx context.Context, userID int) (model.User, error)
	BalanceIncrease(ctx context.Context, userID int, amount int64) error

	ProductCreate(ctx context.Context, product model.Product) (model.Product, error)
	ProductGet(ctx context.Context, productID int) (model.Product, error)

	BasketAdd(ctx context.Context, userID int, productID int) (model.BasketLine, error)
	BasketRemove(ctx context.Context, userID int, productID int) (model.BasketLine, bool, error)
	BasketClear(ctx context.Context, userID int) error
	BasketGet(ctx context.Context, userID int) ([]model.BasketEntry, error)

	PurchaseBasket(ctx context.Context, userID int) (model.Order, error)

	OrderGetByUser(ctx context.Context, userID int) ([]model.Order, error)
	OrderGetStatus(ctx context.Context, number string) (string, error)
	OrderSetStatus(ctx context.Context, number string, status string) error
	OrderAdvanceStatus(ctx context.Context, from string, to string, before time.Time, now time.Time) (int64, error)

	HistoryGetByUser(ctx context.Context, userID int) ([]model.History, error)

	Close() error
}

var (
	ErrNoRows            = errors.New("no rows")
	ErrAlreadyExists     = errors.New("already exists")
	ErrEmptyBasket       = errors.New("empty basket")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStatusChange      = errors.New("status change not allowed")
)

// Нехватка товара на складе: список имен, по которым не прошла проверка
type InsufficientStockError struct {
	Products []string
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock: " + strings.Join(e.Products, ", ")
}

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица учетных записей. Баланс хранится здесь же, в копейках,
	// меняется только пополнением и покупкой
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS auth (" +
			" uuid SERIAL PRIMARY KEY," +
			" login VARCHAR (100) UNIQUE NOT NULL," +
			" password VARCHAR (100) NOT NULL," +
			" role VARCHAR (10) NOT NULL," +
			" balance BIGINT NOT NULL DEFAULT 0" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица товаров. Каталог ведет внешняя часть,
	// покупка уменьшает остаток value
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS product (" +
			" id SERIAL PRIMARY KEY," +
			" name VARCHAR (200) NOT NULL," +
			" price BIGINT NOT NULL," +
			" value INTEGER NOT NULL," +
			" discount INTEGER NOT NULL DEFAULT 0" +
			" );")
	if err != nil {
		return nil, err
	}

	// Корзина: одна строка на пару пользователь-товар, value >= 1
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS basket (" +
			" user_id INTEGER NOT NULL," +
			" product_id INTEGER NOT NULL," +
			" value INTEGER NOT NULL CHECK (value >= 1)," +
			" PRIMARY KEY (user_id, product_id)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Заказ и снимок его строк. Строки после создания не меняются,
	// у заказа меняется только статус
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS purchase_order (" +
			" number VARCHAR (20) PRIMARY KEY," +
			" user_id INTEGER NOT NULL," +
			" total BIGINT NOT NULL," +
			" status VARCHAR (10) NOT NULL," +
			" created_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS purchase_order_line (" +
			" order_number VARCHAR (20) NOT NULL," +
			" product_id INTEGER NOT NULL," +
			" value INTEGER NOT NULL," +
			" price BIGINT NOT NULL," +
			" PRIMARY KEY (order_number, product_id)" +
			" );")
	if err != nil {
		return nil, err
	}

	// История покупок: только добавление, записи не редактируются
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS history (" +
			" id SERIAL PRIMARY KEY," +
			" user_id INTEGER NOT NULL," +
			" created_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS history_line (" +
			" history_id INTEGER NOT NULL," +
			" product_id INTEGER NOT NULL," +
			" value INTEGER NOT NULL," +
			" PRIMARY KEY (history_id, product_id)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Последовательность для номеров заказов
	_, err = db.Exec("CREATE SEQUENCE IF NOT EXISTS order_number_seq;")
	if err != nil {
		return nil, err
	}

	return &store{database: db}, nil
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) AuthRegister(ctx context.Context, login string, passwordHash string) (int, error) {
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO auth (login, password, role, balance)"+
			" VALUES ($1, $2, $3, 0)"+
			" RETURNING uuid",
		login,
		passwordHash,
		model.UserRoleUser)

	var uuid int
	err := row.Scan(&uuid)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return 0, ErrAlreadyExists
			}
		}
		return 0, err
	}

	return uuid, nil
}

func (store *store) AuthLogin(ctx context.Context, login string) (int, string, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT uuid, password FROM auth"+
			" WHERE login = $1",
		login)
	var uuid int
	var passwordHash string
	err := row.Scan(&uuid, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", ErrNoRows
		}
		return 0, "", err
	}

	return uuid, passwordHash, nil
}

func (store *store) UserGet(ctx context.Context, userID int) (model.User, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT uuid, login, role, balance FROM auth"+
			" WHERE uuid = $1",
		userID)
	var user model.User
	err := row.Scan(&user.ID, &user.Login, &user.Role, &user.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNoRows
		}
		return model.User{}, err
	}
	return user, nil
}

func (store *store) BalanceIncrease(ctx context.Context, userID int, amount int64) error {
	result, err := store.database.ExecContext(ctx,
		"UPDATE auth SET balance = balance + $1"+
			" WHERE uuid = $2",
		amount,
		userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (store *store) ProductCreate(ctx context.Context, product model.Product) (model.Product, error) {
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO product (name, price, value, discount)"+
			" VALUES ($1, $2, $3, $4)"+
			" RETURNING id",
		product.Name,
		product.Price,
		product.Value,
		product.Discount)
	err := row.Scan(&product.ID)
	if err != nil {
		return model.Product{}, err
	}
	return product, nil
}

func (store *store) ProductGet(ctx context.Context, productID int) (model.Product, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT id, name, price, value, discount FROM product"+
			" WHERE id = $1",
		productID)
	var product model.Product
	err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Value, &product.Discount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, ErrNoRows
		}
		return model.Product{}, err
	}
	return product, nil
}

func (store *store) BasketAdd(ctx context.Context, userID int, productID int) (model.BasketLine, error) {
	// Вставка только если товар существует, иначе нет строк в ответе
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO basket (user_id, product_id, value)"+
			" SELECT $1, id, 1 FROM product WHERE id = $2"+
			" ON CONFLICT (user_id, product_id)"+
			" DO UPDATE SET value = basket.value + 1"+
			" RETURNING value",
		userID,
		productID)

	line := model.BasketLine{UserID: userID, ProductID: productID}
	err := row.Scan(&line.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BasketLine{}, ErrNoRows
		}
		return model.BasketLine{}, err
	}
	return line, nil
}

func (store *store) BasketRemove(ctx context.Context, userID int, productID int) (model.BasketLine, bool, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.BasketLine{}, false, err
	}
	defer tx.Rollback()

	line := model.BasketLine{UserID: userID, ProductID: productID}
	row := tx.QueryRowContext(ctx,
		"SELECT value FROM basket"+
			" WHERE user_id = $1 AND product_id = $2"+
			" FOR UPDATE",
		userID,
		productID)
	err = row.Scan(&line.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BasketLine{}, false, ErrNoRows
		}
		return model.BasketLine{}, false, err
	}

	if line.Value > 1 {
		line.Value--
		_, err = tx.ExecContext(ctx,
			"UPDATE basket SET value = value - 1"+
				" WHERE user_id = $1 AND product_id = $2",
			userID,
			productID)
		if err != nil {
			return model.BasketLine{}, false, err
		}
		return line, false, tx.Commit()
	}

	// последняя штука - строка удаляется
	_, err = tx.ExecContext(ctx,
		"DELETE FROM basket"+
			" WHERE user_id = $1 AND product_id = $2",
		userID,
		productID)
	if err != nil {
		return model.BasketLine{}, false, err
	}
	return model.BasketLine{}, true, tx.Commit()
}

func (store *store) BasketClear(ctx context.Context, userID int) error {
	// пустая корзина - не ошибка
	_, err := store.database.ExecContext(ctx,
		"DELETE FROM basket WHERE user_id = $1",
		userID)
	return err
}

func (store *store) BasketGet(ctx context.Context, userID int) ([]model.BasketEntry, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT b.user_id, b.product_id, b.value,"+
			" p.id, p.name, p.price, p.value, p.discount"+
			" FROM basket b"+
			" JOIN product p ON p.id = b.product_id"+
			" WHERE b.user_id = $1"+
			" ORDER BY b.product_id",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.BasketEntry
	for rows.Next() {
		var entry model.BasketEntry
		err := rows.Scan(&entry.Line.UserID,
			&entry.Line.ProductID,
			&entry.Line.Value,
			&entry.Product.ID,
			&entry.Product.Name,
			&entry.Product.Price,
			&entry.Product.Value,
			&entry.Product.Discount)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PurchaseBasket оформляет покупку корзины одной транзакцией:
// проверка остатков и баланса, списание, заказ со снимком строк,
// запись в историю, уменьшение остатков, очистка корзины.
// При любой ошибке не остается частичных изменений
func (store *store) PurchaseBasket(ctx context.Context, userID int) (model.Order, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer tx.Rollback()

	// Корзина вместе с товарами, строки блокируются до конца транзакции
	rows, err := tx.QueryContext(ctx,
		"SELECT b.product_id, b.value, p.name, p.price, p.value"+
			" FROM basket b"+
			" JOIN product p ON p.id = b.product_id"+
			" WHERE b.user_id = $1"+
			" ORDER BY b.product_id"+
			" FOR UPDATE",
		userID)
	if err != nil {
		return model.Order{}, err
	}

	type purchaseItem struct {
		productID int
		value     int
		name      string
		price     int64
		stock     int
	}
	var items []purchaseItem
	for rows.Next() {
		var item purchaseItem
		err := rows.Scan(&item.productID, &item.value, &item.name, &item.price, &item.stock)
		if err != nil {
			rows.Close()
			return model.Order{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return model.Order{}, err
	}
	rows.Close()

	if len(items) == 0 {
		return model.Order{}, ErrEmptyBasket
	}

	// Проверка остатков: собираем все товары, которых не хватает
	var unavailable []string
	var total int64
	for _, item := range items {
		if item.stock < item.value {
			unavailable = append(unavailable, item.name)
			continue
		}
		total += item.price * int64(item.value)
	}
	if len(unavailable) > 0 {
		return model.Order{}, &InsufficientStockError{Products: unavailable}
	}

	// Баланс под блокировкой
	var balance int64
	row := tx.QueryRowContext(ctx,
		"SELECT balance FROM auth"+
			" WHERE uuid = $1"+
			" FOR UPDATE",
		userID)
	err = row.Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	if balance < total {
		return model.Order{}, ErrInsufficientFunds
	}

	// Списание
	_, err = tx.ExecContext(ctx,
		"UPDATE auth SET balance = balance - $1"+
			" WHERE uuid = $2",
		total,
		userID)
	if err != nil {
		return model.Order{}, err
	}

	// Номер заказа
	var seq int
	row = tx.QueryRowContext(ctx, "SELECT nextval('order_number_seq')")
	if err := row.Scan(&seq); err != nil {
		return model.Order{}, err
	}

	now := time.Now().UTC()
	order := model.Order{
		Number:    ordernum.Build(seq),
		UserID:    userID,
		Total:     total,
		Status:    model.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO purchase_order (number, user_id, total, status, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		order.Number,
		order.UserID,
		order.Total,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}

	// Запись в историю
	var historyID int
	row = tx.QueryRowContext(ctx,
		"INSERT INTO history (user_id, created_at)"+
			" VALUES ($1, $2)"+
			" RETURNING id",
		userID,
		now)
	if err := row.Scan(&historyID); err != nil {
		return model.Order{}, err
	}

	for _, item := range items {
		order.Lines = append(order.Lines, model.OrderLine{
			ProductID: item.productID,
			Value:     item.value,
			Price:     item.price,
		})

		_, err = tx.ExecContext(ctx,
			"INSERT INTO purchase_order_line (order_number, product_id, value, price)"+
				" VALUES ($1, $2, $3, $4)",
			order.Number,
			item.productID,
			item.value,
			item.price)
		if err != nil {
			return model.Order{}, err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO history_line (history_id, product_id, value)"+
				" VALUES ($1, $2, $3)",
			historyID,
			item.productID,
			item.value)
		if err != nil {
			return model.Order{}, err
		}

		// Уменьшение остатка
		_, err = tx.ExecContext(ctx,
			"UPDATE product SET value = value - $1"+
				" WHERE id = $2",
			item.value,
			item.productID)
		if err != nil {
			return model.Order{}, err
		}
	}

	// Очистка корзины
	_, err = tx.ExecContext(ctx,
		"DELETE FROM basket WHERE user_id = $1",
		userID)
	if err != nil {
		return model.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) OrderGetByUser(ctx context.Context, userID int) ([]model.Order, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT number, user_id, total, status, created_at, updated_at"+
			" FROM purchase_order"+
			" WHERE user_id = $1"+
			" ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var order model.Order
		err := rows.Scan(&order.Number,
			&order.UserID,
			&order.Total,
			&order.Status,
			&order.CreatedAt,
			&order.UpdatedAt)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		lines, err := store.orderLines(ctx, orders[i].Number)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (store *store) orderLines(ctx context.Context, number string) ([]model.OrderLine, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT product_id, value, price"+
			" FROM purchase_order_line"+
			" WHERE order_number = $1"+
			" ORDER BY product_id",
		number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []model.OrderLine
	for rows.Next() {
		var line model.OrderLine
		err := rows.Scan(&line.ProductID, &line.Value, &line.Price)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (store *store) OrderGetStatus(ctx context.Context, number string) (string, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT status FROM purchase_order"+
			" WHERE number = $1",
		number)
	var status string
	err := row.Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoRows
		}
		return "", err
	}
	return status, nil
}

// OrderSetStatus - административная смена статуса.
// Движение только вперед по цепочке, CANCELLED из любого нетерминального,
// терминальные статусы не меняются
func (store *store) OrderSetStatus(ctx context.Context, number string, status string) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT status FROM purchase_order"+
			" WHERE number = $1"+
			" FOR UPDATE",
		number)
	var current string
	err = row.Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRows
		}
		return err
	}

	if model.StatusTerminal(current) {
		return ErrStatusChange
	}
	if status != model.OrderStatusCancelled {
		currentRank, _ := model.StatusRank(current)
		targetRank, ok := model.StatusRank(status)
		if !ok || targetRank <= currentRank {
			return ErrStatusChange
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE purchase_order"+
			" SET status = $1, updated_at = $2"+
			" WHERE number = $3",
		status,
		time.Now().UTC(),
		number)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// OrderAdvanceStatus переводит все заказы from -> to,
// у которых updated_at не позже before
func (store *store) OrderAdvanceStatus(ctx context.Context, from string, to string, before time.Time, now time.Time) (int64, error) {
	result, err := store.database.ExecContext(ctx,
		"UPDATE purchase_order"+
			" SET status = $1, updated_at = $2"+
			" WHERE status = $3"+
			"   AND updated_at <= $4",
		to,
		now,
		from,
		before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (store *store) HistoryGetByUser(ctx context.Context, userID int) ([]model.History, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, user_id, created_at"+
			" FROM history"+
			" WHERE user_id = $1"+
			" ORDER BY id DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var histories []model.History
	for rows.Next() {
		var history model.History
		err := rows.Scan(&history.ID, &history.UserID, &history.CreatedAt)
		if err != nil {
			return nil, err
		}
		histories = append(histories, history)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range histories {
		lines, err := store.historyLines(ctx, histories[i].ID)
		if err != nil {
			return nil, err
		}
		histories[i].Lines = lines
	}
	return histories, nil
}

func (store *store) historyLines(ctx context.Context, historyID int) ([]model.HistoryLine, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT product_id, value"+
			" FROM history_line"+
			" WHERE history_id = $1"+
			" ORDER BY product_id",
		historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []model.HistoryLine
	for rows.Next() {
		var line model.HistoryLine
		err := rows.Scan(&line.ProductID, &line.Value)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
