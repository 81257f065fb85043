package copytrading

import (
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/types"
)

// RefreshRoleFlagsTx recomputes is_master and is_slave of each account from the
// relations that still reference it. Flags are never set directly.
func RefreshRoleFlagsTx(tx *database.Tx, accountIDs ...string) error {
	seen := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		var masterOf, slaveOf int64
		if err := tx.DB().Model(&types.CopyTradingRelation{}).Where("master_account_id = ?", id).Count(&masterOf).Error; err != nil {
			return err
		}
		if err := tx.DB().Model(&types.CopyTradingRelation{}).Where("slave_account_id = ?", id).Count(&slaveOf).Error; err != nil {
			return err
		}

		err := tx.DB().Model(&types.TradingAccount{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_master": masterOf > 0,
			"is_slave":  slaveOf > 0,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteAccountRelationsTx removes every relation touching accountID and
// refreshes the flags of the accounts on the other side
func DeleteAccountRelationsTx(tx *database.Tx, accountID string) error {
	var relations []types.CopyTradingRelation
	err := tx.DB().
		Where("master_account_id = ? OR slave_account_id = ?", accountID, accountID).
		Find(&relations).Error
	if err != nil {
		return err
	}
	if len(relations) == 0 {
		return nil
	}

	counterparts := make([]string, 0, len(relations))
	for _, r := range relations {
		if r.MasterAccountID == accountID {
			counterparts = append(counterparts, r.SlaveAccountID)
		} else {
			counterparts = append(counterparts, r.MasterAccountID)
		}
	}

	err = tx.DB().
		Where("master_account_id = ? OR slave_account_id = ?", accountID, accountID).
		Delete(&types.CopyTradingRelation{}).Error
	if err != nil {
		return err
	}
	return RefreshRoleFlagsTx(tx, counterparts...)
}

func accountsOwnedBy(tx *database.Tx, userID string, ids ...string) (map[string]bool, error) {
	var owned []string
	err := tx.DB().Model(&types.TradingAccount{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Pluck("id", &owned).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(owned))
	for _, id := range owned {
		out[id] = true
	}
	return out, nil
}
